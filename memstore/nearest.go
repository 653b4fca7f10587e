package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/andreiashu/geocascade"
)

// s2CellLevel sets the granularity of the spatial index. Level 10 cells are about
// 10km across.
const s2CellLevel = 10

// maxNearestDistance is ~25km in radians on the unit sphere. Points farther from
// every office resolve to nothing.
const maxNearestDistance = 25.0 / 6371.0

func (s *Store) buildCellIndex() {
	s.cellIndex = make(map[s2.CellID][]int)
	for i, o := range s.offices {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(float64(o.Latitude), float64(o.Longitude))).Parent(s2CellLevel)
		s.cellIndex[cell] = append(s.cellIndex[cell], i)
	}
}

// searchCells returns the level s2CellLevel cells of a cap of radius
// maxNearestDistance around p. Every office close enough to be returned sits in one
// of them.
func searchCells(p s2.Point) []s2.CellID {
	rc := &s2.RegionCoverer{MinLevel: s2CellLevel, MaxLevel: s2CellLevel, MaxCells: 64}
	return rc.Covering(s2.CapFromCenterAngle(p, s1.Angle(maxNearestDistance)))
}

type nearCandidate struct {
	idx  int
	dist float64
}

// NearestPincode implements geocascade.CoordinateResolver. It returns the closest
// office within about 25km.
func (s *Store) NearestPincode(ctx context.Context, lat, lng float64) (*geocascade.AddressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return nil, geocascade.ErrInvalidCoordinates
	}

	query := s2.LatLngFromDegrees(lat, lng)
	var candidates []nearCandidate
	for _, cell := range searchCells(s2.PointFromLatLng(query)) {
		for _, i := range s.cellIndex[cell] {
			o := s.offices[i]
			d := float64(query.Distance(s2.LatLngFromDegrees(float64(o.Latitude), float64(o.Longitude))))
			candidates = append(candidates, nearCandidate{idx: i, dist: d})
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("nearest %.4f,%.4f: %w", lat, lng, geocascade.ErrNotFound)
	}

	// distance, then pincode, for a deterministic pick
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return s.offices[candidates[i].idx].Pincode < s.offices[candidates[j].idx].Pincode
	})
	best := candidates[0]
	if best.dist > maxNearestDistance {
		return nil, fmt.Errorf("nearest %.4f,%.4f: %w", lat, lng, geocascade.ErrNotFound)
	}
	return s.address(best.idx), nil
}
