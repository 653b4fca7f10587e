package memstore

import (
	"strings"
	"sync"
)

// StateCodes maps Indian state and union territory codes to their names.
// Rows of the directory that carry a state name but no code get their code from here.
var StateCodes = map[string]string{
	"AN": "Andaman and Nicobar Islands", "AP": "Andhra Pradesh", "AR": "Arunachal Pradesh",
	"AS": "Assam", "BR": "Bihar", "CH": "Chandigarh", "CT": "Chhattisgarh",
	"DH": "Dadra and Nagar Haveli and Daman and Diu", "DL": "Delhi", "GA": "Goa",
	"GJ": "Gujarat", "HP": "Himachal Pradesh", "HR": "Haryana", "JH": "Jharkhand",
	"JK": "Jammu and Kashmir", "KA": "Karnataka", "KL": "Kerala", "LA": "Ladakh",
	"LD": "Lakshadweep", "MH": "Maharashtra", "ML": "Meghalaya", "MN": "Manipur",
	"MP": "Madhya Pradesh", "MZ": "Mizoram", "NL": "Nagaland", "OR": "Odisha",
	"PB": "Punjab", "PY": "Puducherry", "RJ": "Rajasthan", "SK": "Sikkim",
	"TG": "Telangana", "TN": "Tamil Nadu", "TR": "Tripura", "UP": "Uttar Pradesh",
	"UT": "Uttarakhand", "WB": "West Bengal",
}

// stateNameIndex is the reverse of StateCodes, keyed by lowercase name.
var stateNameIndex = sync.OnceValue(func() map[string]string {
	m := make(map[string]string, len(StateCodes))
	for code, name := range StateCodes {
		m[strings.ToLower(name)] = code
	}
	return m
})

// StateCode returns the code for a state name, or "" if unknown.
func StateCode(name string) string {
	return stateNameIndex()[strings.ToLower(strings.TrimSpace(name))]
}

// StateName returns the name for a state code, or "" if unknown.
func StateName(code string) string {
	return StateCodes[strings.ToUpper(strings.TrimSpace(code))]
}

