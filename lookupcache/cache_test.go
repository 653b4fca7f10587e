package lookupcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/andreiashu/geocascade"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

// countingClient answers every lookup with a fixed result and counts calls.
type countingClient struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
}

func newCountingClient() *countingClient { return &countingClient{calls: map[string]int{}} }

func (f *countingClient) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail
}

func (f *countingClient) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *countingClient) list(op, name string) ([]geocascade.Suggestion, error) {
	if err := f.hit(op); err != nil {
		return nil, err
	}
	return []geocascade.Suggestion{{ID: op + ":" + name, Name: name}}, nil
}

func (f *countingClient) SuggestCountry(_ context.Context, p string) ([]geocascade.Suggestion, error) {
	return f.list("country", "India")
}
func (f *countingClient) SuggestState(_ context.Context, p, _ string) ([]geocascade.Suggestion, error) {
	return f.list("state", "Karnataka")
}
func (f *countingClient) SuggestDistrict(_ context.Context, p, _ string) ([]geocascade.Suggestion, error) {
	return f.list("district", "Mysore")
}
func (f *countingClient) SuggestCity(_ context.Context, p, _, _ string) ([]geocascade.Suggestion, error) {
	return f.list("city", "Mysore")
}
func (f *countingClient) SuggestPincode(_ context.Context, p, _, _ string) ([]geocascade.Suggestion, error) {
	return f.list("pincodes", "570001")
}
func (f *countingClient) ResolvePincode(_ context.Context, code string) (*geocascade.AddressRecord, error) {
	if err := f.hit("resolve"); err != nil {
		return nil, err
	}
	if code == "999999" {
		return nil, geocascade.ErrNotFound
	}
	return &geocascade.AddressRecord{Pincode: code, City: "Mysore"}, nil
}

// coordinateClient adds NearestPincode.
type coordinateClient struct{ *countingClient }

func (f coordinateClient) NearestPincode(_ context.Context, lat, lng float64) (*geocascade.AddressRecord, error) {
	if err := f.hit("nearest"); err != nil {
		return nil, err
	}
	return &geocascade.AddressRecord{Pincode: "560001", Latitude: lat, Longitude: lng}, nil
}

// mapRemote is an in-memory Remote.
type mapRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapRemote() *mapRemote {
	return &mapRemote{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return b, nil
}

func (m *mapRemote) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

type CacheSuite struct {
	next *countingClient
}

var _ = Suite(&CacheSuite{})

func (s *CacheSuite) SetUpTest(c *C) {
	s.next = newCountingClient()
}

func (s *CacheSuite) TestLocalHit(c *C) {
	cl := New(s.next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := cl.SuggestCity(ctx, "Mys", "KA", "Mysore")
		c.Assert(err, IsNil)
		c.Assert(res, HasLen, 1)
		c.Assert(res[0].Name, Equals, "Mysore")
	}
	c.Assert(s.next.count("city"), Equals, 1)

	// keys are case and space insensitive
	_, err := cl.SuggestCity(ctx, " mys ", "ka", "MYSORE")
	c.Assert(err, IsNil)
	c.Assert(s.next.count("city"), Equals, 1)

	// different constraints are different entries
	_, err = cl.SuggestCity(ctx, "Mys", "KA", "")
	c.Assert(err, IsNil)
	c.Assert(s.next.count("city"), Equals, 2)
}

func (s *CacheSuite) TestReturnedSliceIsACopy(c *C) {
	cl := New(s.next)
	res, _ := cl.SuggestState(context.Background(), "kar", "IN")
	res[0].Name = "changed"
	again, _ := cl.SuggestState(context.Background(), "kar", "IN")
	c.Assert(again[0].Name, Equals, "Karnataka")
}

func (s *CacheSuite) TestErrorsAreNotCached(c *C) {
	cl := New(s.next)
	s.next.fail = errors.New("upstream down")
	_, err := cl.SuggestDistrict(context.Background(), "mys", "KA")
	c.Assert(err, ErrorMatches, "upstream down")

	s.next.fail = nil
	res, err := cl.SuggestDistrict(context.Background(), "mys", "KA")
	c.Assert(err, IsNil)
	c.Assert(res, HasLen, 1)
	c.Assert(s.next.count("district"), Equals, 2)
}

func (s *CacheSuite) TestNegativePincode(c *C) {
	remote := newMapRemote()
	cl := New(s.next, WithRemote(remote), WithNegativeTTL(time.Minute))

	for i := 0; i < 2; i++ {
		_, err := cl.ResolvePincode(context.Background(), "999999")
		c.Assert(errors.Is(err, geocascade.ErrNotFound), Equals, true)
	}
	c.Assert(s.next.count("resolve"), Equals, 1)
	c.Assert(remote.ttls["geocascade:pincode|999999"], Equals, time.Minute)
}

func (s *CacheSuite) TestInvalidPincodeSkipsUpstream(c *C) {
	cl := New(s.next)
	_, err := cl.ResolvePincode(context.Background(), "56A001")
	c.Assert(errors.Is(err, geocascade.ErrInvalidPincode), Equals, true)
	c.Assert(s.next.count("resolve"), Equals, 0)
}

func (s *CacheSuite) TestRemoteTierSharedBetweenClients(c *C) {
	remote := newMapRemote()
	first := New(s.next, WithRemote(remote))
	addr, err := first.ResolvePincode(context.Background(), "570001")
	c.Assert(err, IsNil)
	c.Assert(addr.City, Equals, "Mysore")

	second := New(s.next, WithRemote(remote))
	addr, err = second.ResolvePincode(context.Background(), "570001")
	c.Assert(err, IsNil)
	c.Assert(addr.City, Equals, "Mysore")
	c.Assert(s.next.count("resolve"), Equals, 1)
}

func (s *CacheSuite) TestFlush(c *C) {
	cl := New(s.next)
	cl.SuggestCountry(context.Background(), "ind")
	cl.Flush()
	cl.SuggestCountry(context.Background(), "ind")
	c.Assert(s.next.count("country"), Equals, 2)
}

func (s *CacheSuite) TestOptionalOperationsUnsupported(c *C) {
	cl := New(s.next)
	_, err := cl.SuggestTaluk(context.Background(), "ban", "Bangalore Urban")
	c.Assert(err, Equals, geocascade.ErrUnsupported)
	_, err = cl.SuggestLocality(context.Background(), "ko", "", "")
	c.Assert(err, Equals, geocascade.ErrUnsupported)
	_, err = cl.NearestPincode(context.Background(), 12.97, 77.60)
	c.Assert(err, Equals, geocascade.ErrUnsupported)
}

func (s *CacheSuite) TestNearestSharesGeohashCell(c *C) {
	cl := New(coordinateClient{s.next})
	a, err := cl.NearestPincode(context.Background(), 12.9756, 77.6050)
	c.Assert(err, IsNil)
	c.Assert(a.Pincode, Equals, "560001")

	_, err = cl.NearestPincode(context.Background(), 12.9757, 77.6051)
	c.Assert(err, IsNil)
	c.Assert(s.next.count("nearest"), Equals, 1)

	_, err = cl.NearestPincode(context.Background(), 18.9067, 72.8147)
	c.Assert(err, IsNil)
	c.Assert(s.next.count("nearest"), Equals, 2)
}

func TestKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"city", " Mys ", "KA", ""}, "city|mys|ka|"},
		{[]string{"pincode", "560001"}, "pincode|560001"},
	}
	for _, tt := range tests {
		if got := key(tt.parts...); got != tt.want {
			t.Errorf("key(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestWithRedisNil(t *testing.T) {
	cl := New(newCountingClient(), WithRedis(nil))
	if cl.remote != nil {
		t.Error("nil redis client should leave the cache local only")
	}
}
