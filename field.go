package geocascade

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/andreiashu/geocascade/internal/metrics"
)

// Notice is an informational affordance shown under a field. It is never an error.
type Notice int

const (
	NoticeNone Notice = iota
	// NoticeNoMatch: the lookup found nothing, free text is accepted.
	NoticeNoMatch
	// NoticeManualEntry: no pincode could be found for the committed address.
	NoticeManualEntry
	// NoticeNarrowSearch: too many pincodes to list.
	NoticeNarrowSearch
)

// Message is the user-facing text of the notice.
func (n Notice) Message() string {
	switch n {
	case NoticeNoMatch:
		return "No match found. You may enter it manually."
	case NoticeManualEntry:
		return "No pincode found. Please enter it manually."
	case NoticeNarrowSearch:
		return "Multiple pincodes available. Please type to search."
	}
	return ""
}

func (n Notice) String() string {
	switch n {
	case NoticeNoMatch:
		return "no-match"
	case NoticeManualEntry:
		return "manual-entry"
	case NoticeNarrowSearch:
		return "narrow-search"
	}
	return "none"
}

// FieldState is the interactive state of one field. Snapshots returned by State
// and passed to OnFieldChange are copies.
type FieldState struct {
	Value       string
	Suggestions []Suggestion
	Loading     bool
	Open        bool
	ActiveIndex int
	Notice      Notice
}

func (s FieldState) clone() FieldState {
	s.Suggestions = append([]Suggestion(nil), s.Suggestions...)
	return s
}

// Active returns the suggestion under the cursor.
func (s FieldState) Active() (Suggestion, bool) {
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Suggestions) {
		return Suggestion{}, false
	}
	return s.Suggestions[s.ActiveIndex], true
}

// Key is a navigation key delivered to a field.
type Key int

const (
	KeyDown Key = iota
	KeyUp
	KeyEnter
	KeyEscape
)

// FieldController drives the typing, lookup and selection cycle of one field.
// All of its state lives under the owning Coordinator's lock.
type FieldController struct {
	c     *Coordinator
	field Field

	state FieldState
	gen   uint64 // bumped on every input; a lookup result applies only if gen is unchanged
	typed uint64 // bumped by Input only, i.e. by the user typing
	timer Timer
}

// Field returns the field this controller drives.
func (fc *FieldController) Field() Field { return fc.field }

// State returns a snapshot of the field state.
func (fc *FieldController) State() FieldState {
	fc.c.mu.Lock()
	defer fc.c.mu.Unlock()
	return fc.state.clone()
}

// Input records raw text typed by the user and schedules a debounced lookup.
// Text that is not queryable clears the suggestions without a lookup.
func (fc *FieldController) Input(raw string) {
	c := fc.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fc.bump()
	fc.typed++
	fc.state.Value = raw
	fc.state.Notice = NoticeNone
	if fc.queryable(raw) {
		fc.schedule()
	} else {
		fc.closeList()
	}
	n := c.noteField(nil, fc)
	c.unlockAndDeliver(n)
}

// Focus re-issues the debounced lookup for a non-empty value.
func (fc *FieldController) Focus() {
	c := fc.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !fc.queryable(fc.state.Value) {
		return
	}
	fc.bump()
	fc.schedule()
}

// Key applies a navigation key. Enter commits the active suggestion and is a no-op
// on an empty list; Escape closes the list and leaves the committed value alone.
func (fc *FieldController) Key(k Key) {
	c := fc.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var n *notifications
	last := len(fc.state.Suggestions) - 1
	switch k {
	case KeyDown:
		if last >= 0 {
			fc.state.ActiveIndex = min(fc.state.ActiveIndex+1, last)
			fc.state.Open = true
			n = c.noteField(nil, fc)
		}
	case KeyUp:
		if last >= 0 {
			fc.state.ActiveIndex = max(fc.state.ActiveIndex-1, 0)
			n = c.noteField(nil, fc)
		}
	case KeyEnter:
		if s, ok := fc.state.Active(); ok {
			n = c.commitLocked(fc.field, s.valueFor(fc.field), s.Code)
		}
	case KeyEscape:
		if fc.state.Open {
			fc.state.Open = false
			n = c.noteField(nil, fc)
		}
	}
	c.unlockAndDeliver(n)
}

// Select commits the i-th suggestion. Out of range indexes are ignored.
func (fc *FieldController) Select(i int) {
	c := fc.c
	c.mu.Lock()
	if c.closed || i < 0 || i >= len(fc.state.Suggestions) {
		c.mu.Unlock()
		return
	}
	s := fc.state.Suggestions[i]
	n := c.commitLocked(fc.field, s.valueFor(fc.field), s.Code)
	c.unlockAndDeliver(n)
}

// Accept commits the typed text as a free-text value.
func (fc *FieldController) Accept() {
	c := fc.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	n := c.commitLocked(fc.field, fc.state.Value, "")
	c.unlockAndDeliver(n)
}

// Clear empties the field and every field after it.
func (fc *FieldController) Clear() {
	c := fc.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	n := c.commitLocked(fc.field, "", "")
	c.unlockAndDeliver(n)
}

// queryable reports whether raw warrants a lookup. A pincode field only reacts to
// a complete code.
func (fc *FieldController) queryable(raw string) bool {
	raw = strings.TrimSpace(raw)
	if fc.field == Pincode {
		return IsPincode(raw)
	}
	return len([]rune(raw)) >= fc.c.cfg.MinQueryLength
}

// bump invalidates pending and in-flight lookups. Caller holds c.mu.
func (fc *FieldController) bump() {
	fc.gen++
	if fc.timer != nil {
		fc.timer.Stop()
		fc.timer = nil
	}
}

// reset returns the field to its zero state. Caller holds c.mu.
func (fc *FieldController) reset() {
	fc.bump()
	fc.state = FieldState{}
}

// settle shows a committed value with the list closed. Caller holds c.mu.
func (fc *FieldController) settle(value string) {
	fc.bump()
	fc.state = FieldState{Value: value}
}

func (fc *FieldController) closeList() {
	fc.state.Suggestions = nil
	fc.state.Open = false
	fc.state.Loading = false
	fc.state.ActiveIndex = 0
}

// schedule arms the debounce timer for the current generation. Caller holds c.mu.
func (fc *FieldController) schedule() {
	gen := fc.gen
	query := strings.TrimSpace(fc.state.Value)
	fc.timer = fc.c.cfg.Scheduler.AfterFunc(fc.c.cfg.Debounce, func() {
		fc.fire(gen, query)
	})
}

// fire runs when the quiet period elapses.
func (fc *FieldController) fire(gen uint64, query string) {
	c := fc.c
	c.mu.Lock()
	if c.closed || gen != fc.gen {
		c.mu.Unlock()
		return
	}
	fc.timer = nil

	if fc.field == Pincode {
		// a complete code is committed and resolved rather than searched for
		var n *notifications
		if c.record.Pincode == query {
			fc.closeList()
			n = c.noteField(nil, fc)
		} else {
			n = c.commitLocked(Pincode, query, "")
		}
		c.unlockAndDeliver(n)
		return
	}

	fc.state.Loading = true
	rec := c.record
	n := c.noteField(nil, fc)
	c.wg.Add(1)
	c.unlockAndDeliver(n)

	go fc.lookup(gen, query, rec)
}

func (fc *FieldController) lookup(gen uint64, query string, rec LocationRecord) {
	c := fc.c
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LookupTimeout)
	defer cancel()

	start := time.Now()
	res, err := suggest(ctx, c.client, fc.field, query, rec)
	metrics.LookupDurationMs.WithLabelValues(fc.field.String()).Observe(float64(time.Since(start).Milliseconds()))

	c.mu.Lock()
	if gen != fc.gen {
		c.mu.Unlock()
		metrics.LookupsTotal.WithLabelValues(fc.field.String(), "stale").Inc()
		c.log.Debug("lookup_discarded", "field", fc.field.String(), "query", query)
		return
	}

	outcome := "ok"
	fc.state.Loading = false
	fc.state.ActiveIndex = 0
	switch {
	case errors.Is(err, ErrUnsupported):
		outcome = "unsupported"
		fc.state.Suggestions = nil
		fc.state.Open = true
		fc.state.Notice = NoticeNoMatch
	case err != nil:
		outcome = "error"
		fc.state.Suggestions = nil
		fc.state.Open = false
		c.log.Warn("lookup_failed", "err", &LookupError{Field: fc.field, Op: "suggest", Err: err}, "query", query)
	case len(res) == 0:
		outcome = "empty"
		fc.state.Suggestions = nil
		fc.state.Open = true
		fc.state.Notice = NoticeNoMatch
	default:
		fc.state.Suggestions = res
		fc.state.Open = true
		fc.state.Notice = NoticeNone
	}
	metrics.LookupsTotal.WithLabelValues(fc.field.String(), outcome).Inc()
	c.unlockAndDeliver(c.noteField(nil, fc))
}
