package dagaz

import (
	"math"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
)

// Tree Spatial Partition
//
// Quads are indexed by their center: each quad is a point of a space owned by
// the partition, so the space point tree answers the spatial lookups. The
// particularities are:
//   - a lookup by quad bounds queries the tree with a box grown by the largest
//     half extents inserted so far, then filters candidates on their bounds.
//   - a quad inserted close enough above or below an overlapping quad is
//     merged into it instead of being added.

const MERGE_EPSILON = (float32)(0.6)

type TreePartition struct {
	space *models.Space

	mutex      sync.Mutex
	quads      map[uint32]*Quad
	maxExtents mgl32.Vec3
	mergeCount uint32
	bounds     geom.Box
	hasBounds  bool
}

func NewTreePartition(space *models.Space) *TreePartition {
	return &TreePartition{
		space: space,
		quads: make(map[uint32]*Quad),
	}
}

func (p *TreePartition) InsertQuad(q Quad) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id, existing, ok := p.mergeCandidate(q); ok {
		existing.merge(q)

		err := p.space.MovePoint(id, existing.Center)
		if err == nil {
			p.mergeCount++
			p.grow(*existing)
			return
		}

		logs.Warn(errors.New("merging quad failed").
			WithTag("space_id", p.space.ID).
			WithTag("point_id", id).
			Wrap(err))
		delete(p.quads, id)
		q = *existing
	}

	points, err := p.space.AddPoints(q.Center)
	if err != nil {
		logs.Warn(errors.New("inserting quad failed").
			WithTag("space_id", p.space.ID).
			Wrap(err))
		return
	}

	quad := q
	p.quads[points[0].ID] = &quad
	p.grow(quad)
}

func (p *TreePartition) grow(q Quad) {
	p.maxExtents = maxVec(p.maxExtents, absVec(q.Extents))

	if !p.hasBounds {
		p.bounds = geom.NewBox(q.Min(), q.Max())
		p.hasBounds = true
		return
	}
	p.bounds = p.bounds.ExpandToPoint(q.Min()).ExpandToPoint(q.Max())
}

// mergeCandidate returns the quad closest in height to q, within
// MERGE_EPSILON, whose horizontal bounds overlap q.
func (p *TreePartition) mergeCandidate(q Quad) (uint32, *Quad, bool) {
	reach := absVec(q.Extents).Add(p.maxExtents)
	box := geom.NewBox(
		mgl32.Vec3{q.Center[0] - reach[0], q.Center[1] - MERGE_EPSILON, q.Center[2] - reach[2]},
		mgl32.Vec3{q.Center[0] + reach[0], q.Center[1] + MERGE_EPSILON, q.Center[2] + reach[2]},
	)

	var (
		bestID   uint32
		best     *Quad
		bestDist = float32(math.Inf(1))
	)

	for _, point := range p.space.QueryBox(box) {
		candidate, ok := p.quads[point.ID]
		if !ok {
			continue
		}

		dist := float32(math.Abs(float64(candidate.Center[1] - q.Center[1])))
		if dist > MERGE_EPSILON || !doHorizontalPlanesOverlap(*candidate, q) {
			continue
		}
		if dist < bestDist {
			bestID = point.ID
			best = candidate
			bestDist = dist
		}
	}
	return bestID, best, best != nil
}

// candidates returns the quads whose center lies within box grown by the
// largest half extents, ordered by point id.
func (p *TreePartition) candidates(box geom.Box) []*Quad {
	box = geom.NewBox(box.Min.Sub(p.maxExtents), box.Max.Add(p.maxExtents))

	var quads []*Quad
	for _, point := range p.space.QueryBox(box) {
		if q, ok := p.quads[point.ID]; ok {
			quads = append(quads, q)
		}
	}
	return quads
}

// IntersectQuad returns the first quad hit along r and where along r it is
// hit. It returns nil and -1 when no quad is hit.
func (p *TreePartition) IntersectQuad(r Ray) (*Quad, float32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	margin := mgl32.Vec3{intersectEpsilon, intersectEpsilon, intersectEpsilon}
	box := geom.BoxFromPoints(r.From, r.To)
	box = geom.NewBox(box.Min.Sub(margin), box.Max.Add(margin))

	tMin := float32(math.Inf(1))
	var resultQuad *Quad

	for _, q := range p.candidates(box) {
		hit, t := IntersectQuad(r, *q)
		if hit && t < tMin {
			tMin = t
			resultQuad = q
		}
	}

	if resultQuad == nil {
		return nil, -1
	}
	quad := *resultQuad
	return &quad, tMin
}

// GetRegion returns the quads whose bounds intersect the region between min
// and max, ordered by point id.
func (p *TreePartition) GetRegion(min mgl32.Vec3, max mgl32.Vec3) []Quad {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	region := geom.NewBox(minVec(min, max), maxVec(min, max))

	var quads []Quad
	for _, q := range p.candidates(region) {
		if region.Intersects(geom.NewBox(q.Min(), q.Max())) {
			quads = append(quads, *q)
		}
	}
	return quads
}

func (p *TreePartition) GetDebugInfo() SpatialDebugInfo {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := p.space.Stats()

	result := SpatialDebugInfo{
		PlaneCount: uint32(len(p.quads)),
		MergeCount: p.mergeCount,
		MinPoint:   p.bounds.Min,
		MaxPoint:   p.bounds.Max,
		Occupancy:  make([]uint32, len(stats.Tree.Occupancy)),
	}
	for i, n := range stats.Tree.Occupancy {
		result.Occupancy[i] = uint32(n)
	}
	return result
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}
