package sqlstore

import (
	"strconv"
	"strings"
)

// query accumulates a WHERE clause and its positional arguments.
type query struct {
	where []string
	args  []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// prefix matches any of cols case-insensitively against p followed by anything.
func (q *query) prefix(p string, cols ...string) {
	ph := q.arg(escapeLike(p) + "%")
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " ILIKE " + ph
	}
	q.add(parts...)
}

// ref constrains a level given either its code or its name. Empty refs add nothing.
func (q *query) ref(codeCol, nameCol, ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	ph := q.arg(ref)
	q.add("UPPER("+codeCol+") = UPPER("+ph+")", "UPPER("+nameCol+") = UPPER("+ph+")")
}

// eqFold constrains col to v ignoring case. Empty values add nothing.
func (q *query) eqFold(col, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	q.add("UPPER(" + col + ") = UPPER(" + q.arg(v) + ")")
}

// add appends one condition; several parts are ORed together.
func (q *query) add(parts ...string) {
	if len(parts) == 1 {
		q.where = append(q.where, parts[0])
		return
	}
	q.where = append(q.where, "("+strings.Join(parts, " OR ")+")")
}

func (q *query) clause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// escapeLike makes LIKE metacharacters in s literal.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// nameQuery selects distinct values of col with one companion column, for
// suggestions of one level.
func nameQuery(table, col, companion string, q *query, limit int) string {
	return "SELECT " + col + ", MIN(COALESCE(" + companion + ", '')) FROM " + table +
		q.clause() +
		" GROUP BY " + col +
		" ORDER BY " + col +
		" LIMIT " + strconv.Itoa(limit)
}

// pincodeQuery selects one office per pincode.
func pincodeQuery(table string, q *query, limit int) string {
	return "SELECT DISTINCT ON (pincode) pincode, COALESCE(officename, ''), COALESCE(district, ''), COALESCE(state, '') FROM " + table +
		q.clause() +
		" ORDER BY pincode, officename" +
		" LIMIT " + strconv.Itoa(limit)
}

func resolveQuery(table string) string {
	return "SELECT COALESCE(country, ''), COALESCE(country_code, ''), COALESCE(state, ''), COALESCE(state_code, ''), " +
		"COALESCE(district, ''), COALESCE(city, ''), COALESCE(taluk, ''), COALESCE(officename, ''), pincode, " +
		"COALESCE(latitude, 0), COALESCE(longitude, 0) FROM " + table +
		" WHERE pincode = $1 ORDER BY officename LIMIT 1"
}
