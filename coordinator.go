package geocascade

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/andreiashu/geocascade/internal/metrics"
)

// Coordinator owns the hierarchy, one FieldController per field and the committed
// LocationRecord. It applies the cascade rule on every commit and emits one
// settled record per user action.
//
// A Coordinator is safe for concurrent use. Callbacks run outside its lock and may
// call back into it.
type Coordinator struct {
	cfg    *Config
	client GeoLookupClient
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	record LocationRecord
	fields map[Field]*FieldController
	// epoch is bumped by every record-changing action. Background work started
	// under an older epoch is dropped when it completes.
	epoch uint64
	// pending is set while the current epoch's emission waits on background work.
	pending bool
	// autofillRun identifies the latest pincode autofill; Reset, Prefill and
	// coordinate commits bump it to drop the one in flight.
	autofillRun uint64
	closed      bool

	// outbox holds notifications in the order they were produced under mu.
	// Exactly one goroutine drains it at a time.
	outbox     []*notifications
	delivering bool
}

// New creates a Coordinator querying client.
func New(client GeoLookupClient, opts ...Option) *Coordinator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.complete(client)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		client: client,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		fields: make(map[Field]*FieldController, len(cfg.Hierarchy.specs)),
	}
	for _, f := range cfg.Hierarchy.Fields() {
		c.fields[f] = &FieldController{c: c, field: f}
	}
	return c
}

// Hierarchy returns the field order the coordinator was built with.
func (c *Coordinator) Hierarchy() *Hierarchy { return c.cfg.Hierarchy }

// Field returns the controller for f, or nil if f is not part of the hierarchy.
func (c *Coordinator) Field(f Field) *FieldController { return c.fields[f] }

// Record returns a copy of the committed record.
func (c *Coordinator) Record() LocationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// Commit commits a selected suggestion to f.
func (c *Coordinator) Commit(f Field, s Suggestion) error {
	return c.commit(f, s.valueFor(f), s.Code)
}

// CommitText commits free text to f. Committing "" clears f and everything after it.
func (c *Coordinator) CommitText(f Field, text string) error {
	return c.commit(f, text, "")
}

func (c *Coordinator) commit(f Field, value, code string) error {
	if !c.cfg.Hierarchy.Contains(f) {
		return ErrUnknownField
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	n := c.commitLocked(f, value, code)
	c.unlockAndDeliver(n)
	return nil
}

// commitLocked writes f, cascades to the fields after it and starts whatever
// background resolution the commit calls for. Caller holds c.mu.
func (c *Coordinator) commitLocked(f Field, value, code string) *notifications {
	value = strings.TrimSpace(value)
	if f == Pincode {
		code = ""
	}
	fc := c.fields[f]
	fc.settle(value)
	n := c.noteField(nil, fc)

	if c.record.sameSlot(f, value, code) {
		// unchanged: no cascade and no new background work
		if !c.pending {
			rec := c.record
			n.record = &rec
		}
		return n
	}

	rec := c.record.with(f, value, code)
	for _, d := range c.cfg.Hierarchy.Downstream(f) {
		rec = rec.without(d)
		c.fields[d].reset()
		n = c.noteField(n, c.fields[d])
	}
	if f != Pincode || len(c.cfg.Hierarchy.Downstream(f)) > 0 {
		// coordinates belong to the place, not to the postal code
		rec = rec.withoutCoordinates()
	}
	c.record = rec.formatted()
	c.epoch++
	c.pending = false

	switch {
	case f == Pincode && IsPincode(value):
		c.pending = true
		c.wg.Add(1)
		go c.reverseResolve(c.epoch, value)
	case c.needsPincode(f):
		c.pending = true
		c.autofillRun++
		c.wg.Add(1)
		go c.autofill(c.epoch, c.autofillRun, inputFromRecord(c.record), c.fields[Pincode].typed)
	default:
		rec := c.record
		n.record = &rec
	}
	return n
}

// needsPincode reports whether a commit to f should start pincode discovery:
// the commit was to city, or to district with a city still in place, and no
// pincode is set. Caller holds c.mu.
func (c *Coordinator) needsPincode(f Field) bool {
	if !c.cfg.Hierarchy.Contains(Pincode) || c.record.Pincode != "" || c.record.City == "" {
		return false
	}
	return f == City || f == District
}

// reverseResolve back-fills the record from a committed pincode.
func (c *Coordinator) reverseResolve(epoch uint64, code string) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LookupTimeout)
	defer cancel()
	addr, err := c.client.ResolvePincode(ctx, code)

	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		metrics.ReverseResolutionsTotal.WithLabelValues("stale").Inc()
		c.log.Debug("pincode_resolution_discarded", "pincode", code)
		return
	}
	c.pending = false

	var n *notifications
	switch {
	case err == nil && addr != nil:
		metrics.ReverseResolutionsTotal.WithLabelValues("found").Inc()
		rec := recordFromAddress(addr)
		rec.Pincode = code
		n = c.replaceLocked(rec.formatted())
	case errors.Is(err, ErrNotFound):
		metrics.ReverseResolutionsTotal.WithLabelValues("not_found").Inc()
		c.log.Info("pincode_not_found", "pincode", code)
	default:
		if err == nil {
			err = ErrNotFound
		}
		metrics.ReverseResolutionsTotal.WithLabelValues("error").Inc()
		c.log.Warn("pincode_resolution_failed", "err", &LookupError{Field: Pincode, Op: "resolve", Err: err})
	}
	if n == nil {
		n = &notifications{}
	}
	rec := c.record
	n.record = &rec
	c.unlockAndDeliver(n)
}

// autofill runs the pincode resolver for a freshly committed city and applies its decision.
// The result still applies after commits that leave the resolver input alone, such as
// taluk or locality. It is dropped when the input changed, a pincode was committed, a
// newer run started, or the user typed into the pincode field (typed is the field's
// typing count when the run started).
func (c *Coordinator) autofill(epoch, run uint64, in ResolveInput, typed uint64) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LookupTimeout)
	defer cancel()
	set, err := c.cfg.Resolver.Resolve(ctx, in)

	c.mu.Lock()
	if c.closed || run != c.autofillRun || c.record.Pincode != "" || inputFromRecord(c.record) != in {
		c.mu.Unlock()
		c.log.Debug("pincode_autofill_discarded", "city", in.City)
		return
	}
	if epoch == c.epoch {
		c.pending = false
	}

	pin := c.fields[Pincode]
	n := &notifications{}
	switch {
	case pin.typed != typed:
		c.log.Debug("pincode_autofill_skipped", "reason", "user_input", "city", in.City)
	case err != nil:
		c.log.Warn("pincode_autofill_failed", "city", in.City, "err", err)
		pin.state.Notice = NoticeManualEntry
		n = c.noteField(n, pin)
	default:
		c.applyDecision(pin, set)
		n = c.noteField(n, pin)
	}
	rec := c.record
	n.record = &rec
	c.unlockAndDeliver(n)
}

// applyDecision carries out the resolver's decision on the pincode field. Caller holds c.mu.
func (c *Coordinator) applyDecision(pin *FieldController, set PincodeCandidateSet) {
	switch set.Decision {
	case DecisionAutoCommit:
		code := set.Candidates[0].valueFor(Pincode)
		pin.settle(code)
		c.record = c.record.with(Pincode, code, "").formatted()
	case DecisionSuggest:
		pin.bump()
		pin.state = FieldState{
			Value:       pin.state.Value,
			Suggestions: set.Candidates,
			Open:        true,
		}
	case DecisionNarrowSearch:
		pin.closeList()
		pin.state.Notice = NoticeNarrowSearch
	default:
		pin.closeList()
		pin.state.Notice = NoticeManualEntry
	}
}

// CommitCoordinates fills the address from the post office nearest to lat/lng.
// It needs a client implementing CoordinateResolver. The resolution runs in the
// background; the settled record is emitted once it completes.
func (c *Coordinator) CommitCoordinates(lat, lng float64) error {
	cr, ok := c.client.(CoordinateResolver)
	if !ok {
		return ErrUnsupported
	}
	if !ValidCoordinates(lat, lng) {
		return ErrInvalidCoordinates
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.epoch++
	c.autofillRun++
	c.pending = true
	epoch := c.epoch
	c.wg.Add(1)
	c.mu.Unlock()

	go c.nearest(cr, epoch, lat, lng)
	return nil
}

func (c *Coordinator) nearest(cr CoordinateResolver, epoch uint64, lat, lng float64) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LookupTimeout)
	defer cancel()
	addr, err := cr.NearestPincode(ctx, lat, lng)

	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		c.log.Debug("coordinate_resolution_discarded", "lat", lat, "lng", lng)
		return
	}
	c.pending = false

	n := &notifications{}
	if err != nil || addr == nil {
		c.log.Warn("coordinate_resolution_failed", "lat", lat, "lng", lng, "err", err)
	} else {
		rec := recordFromAddress(addr)
		rec.Latitude, rec.Longitude, rec.HasCoordinates = lat, lng, true
		n = c.replaceLocked(rec)
	}
	rec := c.record
	n.record = &rec
	c.unlockAndDeliver(n)
}

// Prefill loads an existing address, e.g. when editing a saved listing. No cascade or
// resolution runs; the record is emitted once.
func (c *Coordinator) Prefill(rec LocationRecord) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.epoch++
	c.autofillRun++
	c.pending = false
	n := c.replaceLocked(rec.formatted())
	out := c.record
	n.record = &out
	c.unlockAndDeliver(n)
	return nil
}

// Reset clears every field and the record.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.epoch++
	c.autofillRun++
	c.pending = false
	n := c.replaceLocked(LocationRecord{})
	rec := c.record
	n.record = &rec
	c.unlockAndDeliver(n)
}

// replaceLocked swaps in rec as one replacement and shows its values in every field,
// invalidating in-flight lookups. Caller holds c.mu.
func (c *Coordinator) replaceLocked(rec LocationRecord) *notifications {
	c.record = rec
	var n *notifications
	for _, f := range c.cfg.Hierarchy.Fields() {
		fc := c.fields[f]
		fc.settle(rec.Get(f))
		n = c.noteField(n, fc)
	}
	return n
}

// Validate reports the required fields that are still empty as a *MissingFieldsError.
func (c *Coordinator) Validate() error {
	c.mu.Lock()
	rec := c.record
	c.mu.Unlock()

	var missing []Field
	for _, s := range c.cfg.Hierarchy.specs {
		if s.Required && strings.TrimSpace(rec.Get(s.Field)) == "" {
			missing = append(missing, s.Field)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// Wait blocks until every lookup and resolution started so far has finished.
// Debounce timers that have not fired yet are not waited for.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close stops pending timers, cancels in-flight lookups and waits for them.
// Later calls on the coordinator are no-ops or return ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, fc := range c.fields {
		fc.bump()
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

type fieldNote struct {
	field Field
	state FieldState
}

// notifications collects the callbacks produced under the lock so they can be
// delivered after it is released.
type notifications struct {
	fields []fieldNote
	record *LocationRecord
}

// noteField appends a snapshot of fc to n, allocating n if needed. Caller holds c.mu.
func (c *Coordinator) noteField(n *notifications, fc *FieldController) *notifications {
	if n == nil {
		n = &notifications{}
	}
	if c.cfg.OnFieldChange != nil {
		n.fields = append(n.fields, fieldNote{field: fc.field, state: fc.state.clone()})
	}
	return n
}

// unlockAndDeliver queues n, releases c.mu and delivers the queue in order. A call
// made while another goroutine, or a callback further up the stack, is already
// delivering only queues; the active deliverer picks n up. A record is skipped when a
// newer one is already queued, so the last record delivered is always the current one.
// Caller holds c.mu.
func (c *Coordinator) unlockAndDeliver(n *notifications) {
	if n != nil {
		c.outbox = append(c.outbox, n)
	}
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.outbox) > 0 {
		next := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		if next.record != nil && c.recordQueuedLocked() {
			next.record = nil
		}
		c.mu.Unlock()
		c.deliver(next)
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Coordinator) recordQueuedLocked() bool {
	for _, q := range c.outbox {
		if q.record != nil {
			return true
		}
	}
	return false
}

func (c *Coordinator) deliver(n *notifications) {
	if n == nil {
		return
	}
	if fn := c.cfg.OnFieldChange; fn != nil {
		for _, note := range n.fields {
			fn(note.field, note.state)
		}
	}
	if n.record != nil && c.cfg.OnChange != nil {
		c.cfg.OnChange(*n.record)
	}
}
