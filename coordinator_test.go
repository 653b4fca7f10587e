package geocascade

import (
	"errors"
	"sync"
	"time"

	. "gopkg.in/check.v1"
)

type EngineSuite struct {
	client *scriptedClient
	sched  *manualScheduler
	rec    *recorder
	c      *Coordinator
}

var _ = Suite(&EngineSuite{})

func (s *EngineSuite) SetUpTest(c *C) {
	s.client = newScriptedClient()
	s.sched = &manualScheduler{}
	s.rec = &recorder{}
	s.c = s.newCoordinator(fullClient{s.client})
}

func (s *EngineSuite) TearDownTest(c *C) {
	s.c.Close()
}

func (s *EngineSuite) newCoordinator(client GeoLookupClient, opts ...Option) *Coordinator {
	base := []Option{
		WithScheduler(s.sched),
		WithLogger(discardLogger),
		WithOnChange(s.rec.onChange),
		WithOnFieldChange(s.rec.onFieldChange),
	}
	return New(client, append(base, opts...)...)
}

// typeAndSettle types text into f, fires the debounce and waits for the lookup.
func (s *EngineSuite) typeAndSettle(f Field, text string) {
	s.c.Field(f).Input(text)
	s.sched.fire()
	s.c.Wait()
}

func (s *EngineSuite) prefillFull(c *C) {
	c.Assert(s.c.Prefill(recordFromAddress(bangalore)), IsNil)
	s.rec.reset()
}

// Committing a new value to any field empties every field after it.
func (s *EngineSuite) TestCascadeInvalidation(c *C) {
	h := s.c.Hierarchy()
	for _, a := range h.Fields() {
		s.prefillFull(c)
		c.Assert(s.c.CommitText(a, "Changed"), IsNil)
		s.c.Wait()

		rec := s.c.Record()
		c.Assert(rec.Get(a), Equals, "Changed", Commentf("field %s", a))
		for _, b := range h.Downstream(a) {
			c.Assert(rec.Get(b), Equals, "", Commentf("%s after committing %s", b, a))
			st := s.c.Field(b).State()
			c.Assert(st.Value, Equals, "", Commentf("%s state after committing %s", b, a))
			c.Assert(st.Suggestions, HasLen, 0)
		}
		for _, up := range h.Fields()[:h.Position(a)] {
			c.Assert(rec.Get(up), Equals, recordFromAddress(bangalore).Get(up))
		}
		// a pincode commit changes no place, so the coordinates stay
		c.Assert(rec.HasCoordinates, Equals, a == Pincode, Commentf("field %s", a))
	}
}

func (s *EngineSuite) TestCascadeClearsCodes(c *C) {
	s.prefillFull(c)
	c.Assert(s.c.Commit(Country, Suggestion{Name: "Nepal", Code: "NP"}), IsNil)
	rec := s.c.Record()
	c.Assert(rec.CountryCode, Equals, "NP")
	c.Assert(rec.StateCode, Equals, "")
	c.Assert(rec.FormattedAddress, Equals, "")
}

// A resolving pincode updates every slot in a single emission.
func (s *EngineSuite) TestReverseResolutionIsOneEmission(c *C) {
	s.client.addresses["resolve|560001"] = bangalore

	s.typeAndSettle(Pincode, "560001")

	emitted := s.rec.emitted()
	c.Assert(emitted, HasLen, 1)
	rec := emitted[0]
	c.Assert(rec.Country, Equals, "India")
	c.Assert(rec.State, Equals, "Karnataka")
	c.Assert(rec.District, Equals, "Bangalore Urban")
	c.Assert(rec.City, Equals, "Bangalore")
	c.Assert(rec.Locality, Equals, "MG Road")
	c.Assert(rec.Pincode, Equals, "560001")
	c.Assert(rec.HasCoordinates, Equals, true)
	c.Assert(rec.Latitude, Equals, 12.9756)
	c.Assert(rec.FormattedAddress, Equals, "MG Road, Bangalore North, Bangalore, Bangalore Urban, Karnataka, India - 560001")

	for _, f := range AllFields() {
		c.Assert(s.c.Field(f).State().Value, Equals, rec.Get(f))
	}
}

func (s *EngineSuite) TestUnknownPincodeKeepsTypedCode(c *C) {
	s.typeAndSettle(Pincode, "999999")

	emitted := s.rec.emitted()
	c.Assert(emitted, HasLen, 1)
	c.Assert(emitted[0].Pincode, Equals, "999999")
	c.Assert(emitted[0].City, Equals, "")
}

func (s *EngineSuite) TestUnknownPincodeKeepsCoordinates(c *C) {
	s.prefillFull(c)
	s.typeAndSettle(Pincode, "999999")

	rec := s.c.Record()
	c.Assert(rec.Pincode, Equals, "999999")
	c.Assert(rec.City, Equals, "Bangalore")
	c.Assert(rec.HasCoordinates, Equals, true)
	c.Assert(rec.Latitude, Equals, bangalore.Latitude)
	c.Assert(s.rec.emitted(), HasLen, 1)
}

func (s *EngineSuite) TestReverseResolutionFailureEmitsOnce(c *C) {
	s.client.errs["resolve|560001"] = errors.New("timeout")
	s.typeAndSettle(Pincode, "560001")
	c.Assert(s.rec.emitted(), HasLen, 1)
	c.Assert(s.c.Record().Pincode, Equals, "560001")
}

func (s *EngineSuite) TestPartialPincodeDoesNotQuery(c *C) {
	s.c.Field(Pincode).Input("5600")
	c.Assert(s.sched.pending(), Equals, 0)
	c.Assert(s.client.callLog(), HasLen, 0)
	c.Assert(s.c.Record().Pincode, Equals, "")
}

func (s *EngineSuite) TestStaleReverseResolutionDropped(c *C) {
	s.client.addresses["resolve|560001"] = bangalore
	release := s.client.gate("resolve|560001")

	s.c.Field(Pincode).Input("560001")
	s.sched.fire()
	c.Assert(s.c.CommitText(Country, "Nepal"), IsNil)
	close(release)
	s.c.Wait()

	rec := s.c.Record()
	c.Assert(rec.Country, Equals, "Nepal")
	c.Assert(rec.City, Equals, "")
	// only the country commit emitted; the late resolution was discarded
	c.Assert(s.rec.emitted(), HasLen, 1)
}

func (s *EngineSuite) commitAddress(c *C, city string) {
	c.Assert(s.c.CommitText(Country, "India"), IsNil)
	c.Assert(s.c.Commit(State, Suggestion{Name: "Karnataka", Code: "KA"}), IsNil)
	c.Assert(s.c.CommitText(District, "Udupi"), IsNil)
	s.rec.reset()
	c.Assert(s.c.CommitText(City, city), IsNil)
	s.c.Wait()
}

// One filtered candidate is committed without user interaction.
func (s *EngineSuite) TestAutoCommitSingleCandidate(c *C) {
	s.client.suggestions["pincode|Manipal"] = []Suggestion{pinSuggestion("576104", "Manipal", "Udupi")}

	s.commitAddress(c, "Manipal")

	emitted := s.rec.emitted()
	c.Assert(emitted, HasLen, 1)
	c.Assert(emitted[0].Pincode, Equals, "576104")
	c.Assert(emitted[0].FormattedAddress, Equals, "Manipal, Udupi, Karnataka, India - 576104")
	st := s.c.Field(Pincode).State()
	c.Assert(st.Value, Equals, "576104")
	c.Assert(st.Open, Equals, false)
}

// Two filtered candidates are offered, not committed.
func (s *EngineSuite) TestTwoCandidatesSuggested(c *C) {
	s.client.suggestions["pincode|Manipal"] = []Suggestion{
		pinSuggestion("576104", "Manipal", "Udupi"),
		pinSuggestion("576119", "Manipal University", "Udupi"),
	}

	s.commitAddress(c, "Manipal")

	c.Assert(s.c.Record().Pincode, Equals, "")
	st := s.c.Field(Pincode).State()
	c.Assert(st.Suggestions, HasLen, 2)
	c.Assert(st.Open, Equals, true)
	c.Assert(s.rec.emitted(), HasLen, 1)

	s.c.Field(Pincode).Select(1)
	s.c.Wait()
	c.Assert(s.c.Record().Pincode, Equals, "576119")
}

func (s *EngineSuite) TestCityCandidatesOpenPincodeList(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{
		pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban"),
		pinSuggestion("560002", "Bangalore City", "Bangalore Urban"),
		pinSuggestion("560025", "Bangalore Cantonment", "Bangalore Urban"),
	}
	c.Assert(s.c.CommitText(Country, "India"), IsNil)
	c.Assert(s.c.Commit(State, Suggestion{Name: "Karnataka", Code: "KA"}), IsNil)
	c.Assert(s.c.CommitText(District, "Bangalore Urban"), IsNil)
	s.rec.reset()
	c.Assert(s.c.CommitText(City, "Bangalore"), IsNil)
	s.c.Wait()

	c.Assert(s.client.callLog()[len(s.client.callLog())-1], Equals, "pincode|Bangalore")
	st := s.c.Field(Pincode).State()
	c.Assert(codesOf(st.Suggestions), DeepEquals, []string{"560001", "560002", "560025"})
	c.Assert(st.Open, Equals, true)
	c.Assert(s.c.Record().Pincode, Equals, "")
	c.Assert(s.rec.emitted(), HasLen, 1)
}

func (s *EngineSuite) TestAutofillNotices(c *C) {
	many := make([]Suggestion, 9)
	for i := range many {
		many[i] = pinSuggestion("57610"+string(rune('0'+i)), "Udupi "+string(rune('A'+i)), "Udupi")
	}
	s.client.suggestions["pincode|Udupi"] = many
	s.commitAddress(c, "Udupi")
	st := s.c.Field(Pincode).State()
	c.Assert(st.Notice, Equals, NoticeNarrowSearch)
	c.Assert(st.Suggestions, HasLen, 0)

	delete(s.client.suggestions, "pincode|Udupi")
	s.commitAddress(c, "Nowhere")
	c.Assert(s.c.Field(Pincode).State().Notice, Equals, NoticeManualEntry)
	c.Assert(s.c.Record().Pincode, Equals, "")
}

func (s *EngineSuite) TestAutofillSkippedAfterUserTyping(c *C) {
	s.client.suggestions["pincode|Manipal"] = []Suggestion{pinSuggestion("576104", "Manipal", "Udupi")}
	release := s.client.gate("pincode|Manipal")

	c.Assert(s.c.CommitText(State, "Karnataka"), IsNil)
	c.Assert(s.c.CommitText(District, "Udupi"), IsNil)
	c.Assert(s.c.CommitText(City, "Manipal"), IsNil)
	s.c.Field(Pincode).Input("57")
	close(release)
	s.c.Wait()

	c.Assert(s.c.Record().Pincode, Equals, "")
	c.Assert(s.c.Field(Pincode).State().Value, Equals, "57")
}

// A taluk commit leaves state, district and city alone, so the pincode search
// started by the city commit still applies.
func (s *EngineSuite) TestTalukCommitKeepsAutofill(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban")}
	release := s.client.gate("pincode|Bangalore")

	c.Assert(s.c.Commit(State, Suggestion{Name: "Karnataka", Code: "KA"}), IsNil)
	c.Assert(s.c.CommitText(District, "Bangalore Urban"), IsNil)
	c.Assert(s.c.CommitText(City, "Bangalore"), IsNil)
	c.Assert(s.c.CommitText(Taluk, "Bangalore North"), IsNil)
	s.rec.reset()
	close(release)
	s.c.Wait()

	rec := s.c.Record()
	c.Assert(rec.Taluk, Equals, "Bangalore North")
	c.Assert(rec.Pincode, Equals, "560001")
	c.Assert(s.c.Field(Pincode).State().Value, Equals, "560001")
	emitted := s.rec.emitted()
	c.Assert(emitted, HasLen, 1)
	c.Assert(emitted[0], DeepEquals, rec)
}

func (s *EngineSuite) TestCityChangeDropsAutofill(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban")}
	release := s.client.gate("pincode|Bangalore")

	c.Assert(s.c.CommitText(District, "Bangalore Urban"), IsNil)
	c.Assert(s.c.CommitText(City, "Bangalore"), IsNil)
	c.Assert(s.c.CommitText(City, "Yelahanka"), IsNil)
	close(release)
	s.c.Wait()

	c.Assert(s.c.Record().City, Equals, "Yelahanka")
	c.Assert(s.c.Record().Pincode, Equals, "")
	c.Assert(s.c.Field(Pincode).State().Notice, Equals, NoticeManualEntry)
}

func (s *EngineSuite) TestResetDropsAutofill(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban")}
	release := s.client.gate("pincode|Bangalore")

	c.Assert(s.c.CommitText(District, "Bangalore Urban"), IsNil)
	c.Assert(s.c.CommitText(City, "Bangalore"), IsNil)
	s.c.Reset()
	c.Assert(s.c.Prefill(LocationRecord{District: "Bangalore Urban", City: "Bangalore"}), IsNil)
	close(release)
	s.c.Wait()
	c.Assert(s.c.Record().Pincode, Equals, "")
}

// With city ordered before district, a district commit keeps the city and
// searches again.
func (s *EngineSuite) TestDistrictCommitWithCityStartsAutofill(c *C) {
	h, err := NewHierarchy(
		FieldSpec{Field: Country}, FieldSpec{Field: State},
		FieldSpec{Field: City}, FieldSpec{Field: District}, FieldSpec{Field: Pincode},
	)
	c.Assert(err, IsNil)
	cc := s.newCoordinator(s.client, WithHierarchy(h))
	defer cc.Close()
	s.client.suggestions["pincode|Manipal"] = []Suggestion{pinSuggestion("576104", "Manipal", "Udupi")}

	c.Assert(cc.CommitText(City, "Manipal"), IsNil)
	cc.Wait()
	c.Assert(cc.Record().Pincode, Equals, "576104")

	c.Assert(cc.CommitText(District, "Udupi"), IsNil)
	cc.Wait()
	rec := cc.Record()
	c.Assert(rec.City, Equals, "Manipal")
	c.Assert(rec.Pincode, Equals, "576104")

	n := 0
	for _, call := range s.client.callLog() {
		if call == "pincode|Manipal" {
			n++
		}
	}
	c.Assert(n, Equals, 2)
}

func (s *EngineSuite) TestFieldOutsideHierarchy(c *C) {
	h, err := NewHierarchy(defaultSpecs[Country], defaultSpecs[State])
	c.Assert(err, IsNil)
	cc := s.newCoordinator(s.client, WithHierarchy(h))
	defer cc.Close()

	c.Assert(cc.Field(City), IsNil)
	c.Assert(cc.CommitText(City, "Manipal"), Equals, ErrUnknownField)

	// no pincode field, so a city-less commit never searches
	c.Assert(cc.CommitText(State, "Karnataka"), IsNil)
	cc.Wait()
	c.Assert(s.client.callLog(), HasLen, 0)
}

// Committing the same suggestion twice has no further side effects.
func (s *EngineSuite) TestIdempotentCommit(c *C) {
	s.client.suggestions["pincode|Manipal"] = []Suggestion{
		pinSuggestion("576104", "Manipal", "Udupi"),
		pinSuggestion("576119", "Manipal University", "Udupi"),
	}
	city := Suggestion{ID: "city:udupi:manipal", Name: "Manipal"}

	c.Assert(s.c.CommitText(District, "Udupi"), IsNil)
	c.Assert(s.c.Commit(City, city), IsNil)
	s.c.Wait()
	first := s.c.Record()
	calls := len(s.client.callLog())

	c.Assert(s.c.Commit(City, city), IsNil)
	s.c.Wait()
	second := s.c.Record()

	c.Assert(second, DeepEquals, first)
	c.Assert(len(s.client.callLog()), Equals, calls)
	emitted := s.rec.emitted()
	c.Assert(emitted[len(emitted)-1], DeepEquals, first)
	c.Assert(s.c.Field(Pincode).State().Suggestions, HasLen, 2)
}

// Only the response for the latest input is applied.
func (s *EngineSuite) TestStaleLookupDiscarded(c *C) {
	s.client.suggestions["city|Ban"] = []Suggestion{{Name: "Banswara"}, {Name: "Bangalore"}}
	s.client.suggestions["city|Bangalore"] = []Suggestion{{Name: "Bangalore"}}
	release := s.client.gate("city|Ban")

	s.c.Field(City).Input("Ban")
	c.Assert(s.sched.fire(), Equals, 1)
	c.Assert(s.c.Field(City).State().Loading, Equals, true)

	s.c.Field(City).Input("Bangalore")
	c.Assert(s.sched.fire(), Equals, 1)
	close(release)
	s.c.Wait()

	st := s.c.Field(City).State()
	c.Assert(st.Value, Equals, "Bangalore")
	c.Assert(st.Loading, Equals, false)
	c.Assert(st.Suggestions, DeepEquals, []Suggestion{{Name: "Bangalore"}})
}

func (s *EngineSuite) TestDebounceCoalescesInput(c *C) {
	s.client.suggestions["city|Bangalore"] = []Suggestion{{Name: "Bangalore"}}
	for _, text := range []string{"B", "Ba", "Ban", "Bangalore"} {
		s.c.Field(City).Input(text)
	}
	c.Assert(s.sched.pending(), Equals, 1)
	c.Assert(s.client.callLog(), HasLen, 0)

	s.sched.fire()
	s.c.Wait()
	c.Assert(s.client.callLog(), DeepEquals, []string{"city|Bangalore"})
	c.Assert(s.sched.timers[0].d, Equals, DefaultDebounce)
}

func (s *EngineSuite) TestMinQueryLength(c *C) {
	cc := s.newCoordinator(s.client, WithMinQueryLength(3), WithDebounce(50*time.Millisecond))
	defer cc.Close()

	cc.Field(City).Input(" Ba ")
	c.Assert(s.sched.pending(), Equals, 0)
	cc.Field(City).Input("Ban")
	c.Assert(s.sched.pending(), Equals, 1)
	c.Assert(s.sched.timers[0].d, Equals, 50*time.Millisecond)
}

func (s *EngineSuite) TestNoMatchAndErrors(c *C) {
	s.typeAndSettle(City, "Zzz")
	st := s.c.Field(City).State()
	c.Assert(st.Open, Equals, true)
	c.Assert(st.Notice, Equals, NoticeNoMatch)

	s.client.errs["city|Mys"] = errors.New("connection refused")
	s.typeAndSettle(City, "Mys")
	st = s.c.Field(City).State()
	c.Assert(st.Open, Equals, false)
	c.Assert(st.Notice, Equals, NoticeNone)
	c.Assert(st.Suggestions, HasLen, 0)
}

func (s *EngineSuite) TestOptionalFieldsWithoutSupport(c *C) {
	cc := s.newCoordinator(s.client)
	defer cc.Close()

	cc.Field(Taluk).Input("Bang")
	s.sched.fire()
	cc.Wait()
	st := cc.Field(Taluk).State()
	c.Assert(st.Notice, Equals, NoticeNoMatch)
	c.Assert(st.Open, Equals, true)

	cc.Field(Taluk).Accept()
	c.Assert(cc.Record().Taluk, Equals, "Bang")

	c.Assert(cc.CommitCoordinates(12.9, 77.6), Equals, ErrUnsupported)
}

func (s *EngineSuite) TestKeyboardNavigation(c *C) {
	s.client.suggestions["state|Ka"] = []Suggestion{
		{Name: "Karnataka", Code: "KA"},
		{Name: "Kerala", Code: "KL"},
	}
	s.typeAndSettle(State, "Ka")
	fc := s.c.Field(State)

	fc.Key(KeyUp)
	c.Assert(fc.State().ActiveIndex, Equals, 0)
	fc.Key(KeyDown)
	fc.Key(KeyDown)
	c.Assert(fc.State().ActiveIndex, Equals, 1)
	fc.Key(KeyEscape)
	c.Assert(fc.State().Open, Equals, false)
	c.Assert(s.c.Record().State, Equals, "")

	fc.Key(KeyUp)
	fc.Key(KeyEnter)
	rec := s.c.Record()
	c.Assert(rec.State, Equals, "Karnataka")
	c.Assert(rec.StateCode, Equals, "KA")
	c.Assert(fc.State().Suggestions, HasLen, 0)
}

func (s *EngineSuite) TestEnterOnEmptyListIsNoop(c *C) {
	s.c.Field(State).Input("Ka")
	s.c.Field(State).Key(KeyEnter)
	s.c.Field(State).Select(3)
	c.Assert(s.rec.emitted(), HasLen, 0)
	c.Assert(s.c.Record().State, Equals, "")
}

func (s *EngineSuite) TestFocusRequeries(c *C) {
	s.c.Field(City).Focus()
	c.Assert(s.sched.pending(), Equals, 0)

	s.typeAndSettle(City, "Pune")
	s.c.Field(City).Focus()
	c.Assert(s.sched.pending(), Equals, 1)
}

func (s *EngineSuite) TestClearCascades(c *C) {
	s.prefillFull(c)
	s.c.Field(District).Clear()
	rec := s.c.Record()
	c.Assert(rec.State, Equals, "Karnataka")
	c.Assert(rec.District, Equals, "")
	c.Assert(rec.City, Equals, "")
	c.Assert(rec.Pincode, Equals, "")
	c.Assert(s.rec.emitted(), HasLen, 1)
}

func (s *EngineSuite) TestCommitCoordinates(c *C) {
	s.client.addresses["nearest"] = bangalore

	c.Assert(s.c.CommitCoordinates(12.9760, 77.6055), IsNil)
	s.c.Wait()

	rec := s.c.Record()
	c.Assert(rec.Pincode, Equals, "560001")
	c.Assert(rec.Latitude, Equals, 12.9760)
	c.Assert(rec.Longitude, Equals, 77.6055)
	c.Assert(rec.HasCoordinates, Equals, true)
	c.Assert(s.rec.emitted(), HasLen, 1)

	c.Assert(s.c.CommitCoordinates(91, 0), Equals, ErrInvalidCoordinates)

	// any commit drops the coordinates
	c.Assert(s.c.CommitText(Locality, "Brigade Road"), IsNil)
	c.Assert(s.c.Record().HasCoordinates, Equals, false)
}

func (s *EngineSuite) TestPrefillResetValidate(c *C) {
	err := s.c.Validate()
	var missing *MissingFieldsError
	c.Assert(errors.As(err, &missing), Equals, true)
	c.Assert(missing.Fields, DeepEquals, []Field{Country, State, District, City, Pincode})

	c.Assert(s.c.Prefill(LocationRecord{Country: "India", State: "Kerala", District: "Ernakulam", City: "Kochi", Pincode: "682001"}), IsNil)
	c.Assert(s.c.Validate(), IsNil)
	c.Assert(s.c.Record().FormattedAddress, Equals, "Kochi, Ernakulam, Kerala, India - 682001")
	c.Assert(s.c.Field(City).State().Value, Equals, "Kochi")

	s.c.Reset()
	c.Assert(s.c.Record().IsZero(), Equals, true)
	c.Assert(s.c.Field(City).State().Value, Equals, "")
	c.Assert(s.rec.emitted(), HasLen, 2)
}

func (s *EngineSuite) TestPincodeFirstHierarchy(c *C) {
	s.client.addresses["resolve|560001"] = bangalore
	cc := s.newCoordinator(s.client, WithHierarchy(PincodeFirstHierarchy()))
	defer cc.Close()

	c.Assert(cc.CommitText(Pincode, "560001"), IsNil)
	cc.Wait()
	c.Assert(cc.Record().City, Equals, "Bangalore")

	// everything follows the pincode, so committing a country keeps it
	c.Assert(cc.CommitText(Country, "Nepal"), IsNil)
	c.Assert(cc.Record().Pincode, Equals, "560001")
	c.Assert(cc.Record().City, Equals, "")
}

func (s *EngineSuite) TestCallbacksRunOutsideLock(c *C) {
	var seen []LocationRecord
	var cc *Coordinator
	cc = s.newCoordinator(s.client, WithOnChange(func(LocationRecord) {
		seen = append(seen, cc.Record())
	}))
	defer cc.Close()

	c.Assert(cc.CommitText(Country, "India"), IsNil)
	c.Assert(seen, HasLen, 1)
	c.Assert(seen[0].Country, Equals, "India")
}

// A commit made from inside a callback while background work is delivering its
// result must still be the last record emitted.
func (s *EngineSuite) TestNestedCommitEmitsLast(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{
		pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban"),
		pinSuggestion("560002", "Bangalore City", "Bangalore Urban"),
	}
	var (
		cc      *Coordinator
		emitted []LocationRecord
		done    bool
	)
	cc = s.newCoordinator(s.client,
		WithOnChange(func(r LocationRecord) { emitted = append(emitted, r) }),
		WithOnFieldChange(func(f Field, st FieldState) {
			if f == Pincode && st.Open && !done {
				done = true
				cc.CommitText(Country, "Nepal")
			}
		}),
	)
	defer cc.Close()

	c.Assert(cc.CommitText(Country, "India"), IsNil)
	c.Assert(cc.CommitText(District, "Bangalore Urban"), IsNil)
	c.Assert(cc.CommitText(City, "Bangalore"), IsNil)
	cc.Wait()

	c.Assert(done, Equals, true)
	c.Assert(cc.Record().Country, Equals, "Nepal")
	c.Assert(emitted[len(emitted)-1], DeepEquals, cc.Record())
	for _, r := range emitted[2:] {
		c.Assert(r.City, Equals, "", Commentf("stale record %+v emitted after the nested commit", r))
	}
}

func (s *EngineSuite) TestConcurrentEmissionsEndCurrent(c *C) {
	s.client.suggestions["pincode|Bangalore"] = []Suggestion{pinSuggestion("560001", "Bangalore GPO", "Bangalore Urban")}
	for i := 0; i < 20; i++ {
		var (
			mu   sync.Mutex
			last LocationRecord
		)
		cc := s.newCoordinator(s.client, WithOnChange(func(r LocationRecord) {
			mu.Lock()
			last = r
			mu.Unlock()
		}))
		cc.CommitText(District, "Bangalore Urban")
		cc.CommitText(City, "Bangalore")
		cc.CommitText(Locality, "MG Road")
		cc.Wait()
		mu.Lock()
		c.Assert(last, DeepEquals, cc.Record())
		mu.Unlock()
		cc.Close()
	}
}

func (s *EngineSuite) TestClose(c *C) {
	release := s.client.gate("city|Pune")
	s.c.Field(City).Input("Pune")
	s.sched.fire()

	done := make(chan struct{})
	go func() {
		s.c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		close(release)
		c.Fatal("Close did not cancel the in-flight lookup")
	}

	c.Assert(s.c.CommitText(Country, "India"), Equals, ErrClosed)
	c.Assert(s.c.Prefill(LocationRecord{}), Equals, ErrClosed)
	s.c.Field(City).Input("Mumbai")
	c.Assert(s.sched.pending(), Equals, 0)
}

func (s *EngineSuite) TestLookupTimeout(c *C) {
	s.client.gate("city|Slow")
	cc := s.newCoordinator(s.client, WithLookupTimeout(20*time.Millisecond))
	defer cc.Close()

	cc.Field(City).Input("Slow")
	s.sched.fire()
	cc.Wait()
	st := cc.Field(City).State()
	c.Assert(st.Loading, Equals, false)
	c.Assert(st.Open, Equals, false)
}
