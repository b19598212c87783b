package models

import (
	"cmp"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/pointtree"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

const (
	ErrTypeSpaceNotFound   = "space_not_found"
	ErrTypeSpaceExists     = "space_exists"
	ErrTypePointNotFound   = "point_not_found"
	ErrTypeInvalidArgument = "invalid_argument"
)

// Point is a position tracked by a space.
type Point struct {
	ID       uint32     `json:"id"`
	Position mgl32.Vec3 `json:"position"`
}

type BalanceConfig struct {
	ValuesPerNode int `json:"values_per_node"`
	NumMeanSplits int `json:"num_mean_splits"`

	// Number of point changes after which the space rebalances itself. Zero
	// disables automatic balancing.
	AutoBalanceThreshold int `json:"auto_balance_threshold"`
}

func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		ValuesPerNode:        pointtree.DefaultValuesPerNode,
		NumMeanSplits:        pointtree.DefaultNumMeanSplits,
		AutoBalanceThreshold: 1000,
	}
}

func (c BalanceConfig) Validate() error {
	if c.ValuesPerNode < 1 {
		return errors.New("values per node must be at least 1").
			WithType(ErrTypeInvalidArgument).
			WithTag("values_per_node", c.ValuesPerNode)
	}
	if c.NumMeanSplits < 0 {
		return errors.New("num mean splits must not be negative").
			WithType(ErrTypeInvalidArgument).
			WithTag("num_mean_splits", c.NumMeanSplits)
	}
	if c.AutoBalanceThreshold < 0 {
		return errors.New("auto balance threshold must not be negative").
			WithType(ErrTypeInvalidArgument).
			WithTag("auto_balance_threshold", c.AutoBalanceThreshold)
	}
	return nil
}

// Space is a named set of points indexed by a point tree. It is safe for
// concurrent use.
type Space struct {
	ID        string
	Name      string
	CreatedAt time.Time

	// Set by the store the space is added to.
	FeatureFlags featureflag.FeatureFlag

	mutex     sync.RWMutex
	config    BalanceConfig
	ids       PointIDs
	positions map[uint32]mgl32.Vec3
	tree      *pointtree.Tree[uint32]
	mutations int
	balanced  time.Time

	// Set while the space is held by a store, so that only served points
	// are counted.
	instrumented bool

	moduleStates map[string]any
	moduleMutex  sync.RWMutex
}

func NewSpace(name string, conf BalanceConfig) *Space {
	return newSpace(uuid.NewString(), name, conf, time.Now())
}

func newSpace(id, name string, conf BalanceConfig, createdAt time.Time) *Space {
	s := &Space{
		ID:        id,
		Name:      name,
		CreatedAt: createdAt,
		config:    conf,
		positions: make(map[uint32]mgl32.Vec3),

		moduleStates: make(map[string]any),
	}
	s.tree = pointtree.New(s.position)
	return s
}

func (s *Space) SetModuleState(moduleName string, state any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	s.moduleStates[moduleName] = state
}

func (s *Space) ModuleState(moduleName string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	state, ok := s.moduleStates[moduleName]
	return state, ok
}

// InitModuleState returns the state of the given module, creating it with
// newState when the space has none yet.
func (s *Space) InitModuleState(moduleName string, newState func() any) any {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	state, ok := s.moduleStates[moduleName]
	if !ok {
		state = newState()
		s.moduleStates[moduleName] = state
	}
	return state
}

func (s *Space) position(id uint32) mgl32.Vec3 {
	return s.positions[id]
}

func (s *Space) Config() BalanceConfig {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.config
}

func (s *Space) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.positions)
}

// AddPoints adds a point per position and returns them with their new ids.
// Nothing is added when a position is not finite.
func (s *Space) AddPoints(positions ...mgl32.Vec3) ([]Point, error) {
	for _, p := range positions {
		if err := checkPosition(p); err != nil {
			return nil, err
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	points := make([]Point, len(positions))
	for i, p := range positions {
		id := s.ids.New()
		s.positions[id] = p
		s.tree.Insert(id)
		points[i] = Point{ID: id, Position: p}
	}

	s.instrumentPoints(len(points))
	s.mutated(len(points))
	return points, nil
}

func (s *Space) MovePoint(id uint32, position mgl32.Vec3) error {
	if err := checkPosition(position); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.positions[id]; !ok {
		return pointNotFound(s.ID, id)
	}

	s.positions[id] = position
	s.tree.Update(id)
	s.mutated(1)
	return nil
}

func (s *Space) RemovePoint(id uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.positions[id]; !ok {
		return pointNotFound(s.ID, id)
	}

	s.tree.Remove(id)
	delete(s.positions, id)
	s.ids.Release(id)

	s.instrumentPoints(-1)
	s.mutated(1)
	return nil
}

func checkPosition(p mgl32.Vec3) error {
	if !geom.IsFinite(p) {
		return errors.New("point position must be finite").
			WithType(ErrTypeInvalidArgument).
			WithTag("position", p)
	}
	return nil
}

// setInstrumented adds the points of the space to the point gauge when
// instrumented is set, and takes them out when it is cleared.
func (s *Space) setInstrumented(instrumented bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.instrumented == instrumented {
		return
	}
	s.instrumented = instrumented

	n := len(s.positions)
	if !instrumented {
		n = -n
	}
	instrumentPointGauge(n)
}

// The caller must hold the write lock.
func (s *Space) instrumentPoints(delta int) {
	if s.instrumented {
		instrumentPointGauge(delta)
	}
}

func pointNotFound(spaceID string, id uint32) error {
	return errors.New("point not found").
		WithType(ErrTypePointNotFound).
		WithTag("space_id", spaceID).
		WithTag("point_id", id)
}

func (s *Space) Point(id uint32) (Point, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.positions[id]
	return Point{ID: id, Position: p}, ok
}

// Points returns all the points ordered by id.
func (s *Space) Points() []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	points := make([]Point, 0, len(s.positions))
	for id, p := range s.positions {
		points = append(points, Point{ID: id, Position: p})
	}
	sortPoints(points)
	return points
}

// mutated counts point changes and rebalances the tree once the configured
// threshold is reached. The caller must hold the write lock.
func (s *Space) mutated(n int) {
	if s.config.AutoBalanceThreshold == 0 || s.FeatureFlags.IsSet(featureflag.FlagDisableAutoBalance) {
		return
	}

	s.mutations += n
	if s.mutations < s.config.AutoBalanceThreshold {
		return
	}

	logs.WithTag("space_id", s.ID).
		WithTag("mutations", s.mutations).
		Debug("auto balancing space")
	s.balance()
}

// Balance rebuilds the tree of the space with its balance config.
func (s *Space) Balance() pointtree.Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.balance()
	return s.tree.Stats()
}

func (s *Space) balance() {
	start := time.Now()
	s.tree.Balance(s.config.ValuesPerNode, s.config.NumMeanSplits)
	s.mutations = 0
	s.balanced = start
	instrumentBalance(start)
}

// Reconfigure changes the balance config and rebuilds the tree with it.
func (s *Space) Reconfigure(conf BalanceConfig) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.config = conf
	s.balance()
	return nil
}

func (s *Space) QueryBox(box geom.Box) []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	points := s.points(s.tree.QueryBox(box))
	instrumentQuery(queryKindBox, len(points))
	return points
}

func (s *Space) QuerySphere(sphere geom.Sphere) []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	points := s.points(s.tree.QuerySphere(sphere))
	instrumentQuery(queryKindSphere, len(points))
	return points
}

func (s *Space) QueryFrustum(f geom.Frustum) []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	points := s.points(s.tree.QueryFrustum(f))
	instrumentQuery(queryKindFrustum, len(points))
	return points
}

// points resolves ids to points ordered by id. The caller must hold a lock.
func (s *Space) points(ids []uint32) []Point {
	points := make([]Point, len(ids))
	for i, id := range ids {
		points[i] = Point{ID: id, Position: s.positions[id]}
	}
	sortPoints(points)
	return points
}

func sortPoints(points []Point) {
	slices.SortFunc(points, func(a, b Point) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// StreamBox collects the points inside box in tree order, then hands them to
// fn in batches of at most batchSize. The space is only read locked while the
// points are collected, so fn may block or modify the space. Streaming stops
// at the first error returned by fn.
func (s *Space) StreamBox(box geom.Box, batchSize int, fn func([]Point) error) error {
	if batchSize < 1 {
		return errors.New("batch size must be at least 1").
			WithType(ErrTypeInvalidArgument).
			WithTag("batch_size", batchSize)
	}

	points := s.collectBox(box)
	instrumentQuery(queryKindStream, len(points))

	for batch := range slices.Chunk(points, batchSize) {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) collectBox(box geom.Box) []Point {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var points []Point
	for it := s.tree.BeginBoxIntersection(box); !it.Done(); it.Next() {
		id := it.Value()
		points = append(points, Point{ID: id, Position: s.positions[id]})
	}
	return points
}

// WriteStructure writes the split planes of the space tree.
func (s *Space) WriteStructure(w io.Writer) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.tree.SerializeStructure(w)
}

// RestoreStructure replaces the split planes of the space tree with the ones
// read from r and puts the points back into it. The space is unchanged on
// error.
func (s *Space) RestoreStructure(r io.Reader) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.restoreStructure(r)
}

func (s *Space) restoreStructure(r io.Reader) error {
	tree := pointtree.New(s.position)
	if err := tree.DeserializeStructure(r); err != nil {
		return errors.New("restoring space structure failed").
			WithType(ErrTypeInvalidArgument).
			WithTag("space_id", s.ID).
			Wrap(err)
	}

	for id := range s.positions {
		tree.Insert(id)
	}
	s.tree = tree
	s.mutations = 0
	return nil
}

type SpaceStats struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CreatedAt  time.Time       `json:"created_at"`
	BalancedAt time.Time       `json:"balanced_at,omitempty"`
	Config     BalanceConfig   `json:"config"`
	Tree       pointtree.Stats `json:"tree"`
}

func (s *Space) Stats() SpaceStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return SpaceStats{
		ID:         s.ID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		BalancedAt: s.balanced,
		Config:     s.config,
		Tree:       s.tree.Stats(),
	}
}
