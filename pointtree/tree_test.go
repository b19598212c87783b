package pointtree

import (
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geom"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func newVecTree() *Tree[mgl32.Vec3] {
	return New(func(v mgl32.Vec3) mgl32.Vec3 { return v })
}

// indexTree returns a tree of indices into positions. Indices keep their
// identity when their position changes.
func indexTree(positions []mgl32.Vec3) *Tree[int] {
	return New(func(i int) mgl32.Vec3 { return positions[i] })
}

func randomPositions(rnd *rand.Rand, n int, grid float32) []mgl32.Vec3 {
	positions := make([]mgl32.Vec3, n)
	for i := range positions {
		positions[i] = randomPosition(rnd, grid)
	}
	return positions
}

// randomPosition returns a point of [0, 1]^3. A non-zero grid snaps
// coordinates to multiples of 1/grid so that points share coordinates and
// land on split planes.
func randomPosition(rnd *rand.Rand, grid float32) mgl32.Vec3 {
	var p mgl32.Vec3
	for i := range p {
		p[i] = rnd.Float32()
		if grid > 0 {
			p[i] = float32(int(p[i]*grid)) / grid
		}
	}
	return p
}

func randomBox(rnd *rand.Rand, grid float32) geom.Box {
	return geom.BoxFromPoints(randomPosition(rnd, grid), randomPosition(rnd, grid))
}

func bruteForce(positions []mgl32.Vec3, members []int, contains func(mgl32.Vec3) bool) []int {
	var res []int
	for _, i := range members {
		if contains(positions[i]) {
			res = append(res, i)
		}
	}
	return res
}

func requirePanicsWithType(t *testing.T, errType string, f func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r)

		err, ok := r.(error)
		require.True(t, ok, "panic value is not an error: %v", r)
		require.Equal(t, errType, errors.Type(err))
	}()
	f()
}

// checkInvariants verifies that every member sits in exactly one node, that
// the member table points to it, and that split bounds follow split planes.
func checkInvariants[T comparable](t *testing.T, tree *Tree[T]) {
	t.Helper()

	seen := make(map[T]*node[T])
	var walk func(n *node[T], bounds geom.Box)
	walk = func(n *node[T], bounds geom.Box) {
		require.Equal(t, bounds, n.splitBounds)

		for _, h := range n.handles {
			_, dup := seen[h.value]
			require.False(t, dup, "member %v held twice", h.value)
			seen[h.value] = n
			require.True(t, n.splitBounds.Contains(h.position), "member %v outside its node", h.value)
		}

		below, above := bounds.Split(n.splitAxis, n.splitLocation)
		if n.child[0] != nil {
			walk(n.child[0], below)
		}
		if n.child[1] != nil {
			walk(n.child[1], above)
		}
	}
	if tree.root != nil {
		walk(tree.root, tree.root.splitBounds)
	}

	require.Equal(t, len(seen), tree.Size())
	for v, n := range seen {
		got, ok := tree.members.get(v)
		require.True(t, ok)
		require.Same(t, n, got)
	}
}

func TestTreeInsert(t *testing.T) {
	t.Run("empty tree", func(t *testing.T) {
		tree := newVecTree()
		require.Zero(t, tree.Size())
		require.False(t, tree.Contains(mgl32.Vec3{}))
		require.Empty(t, tree.QueryBox(geom.Unbounded()))
		require.Empty(t, tree.Members())
	})

	t.Run("insert is idempotent", func(t *testing.T) {
		tree := newVecTree()
		tree.Insert(mgl32.Vec3{1, 2, 3})
		tree.Insert(mgl32.Vec3{1, 2, 3})

		require.Equal(t, 1, tree.Size())
		require.True(t, tree.Contains(mgl32.Vec3{1, 2, 3}))
		require.Len(t, tree.QueryBox(geom.Unbounded()), 1)
		checkInvariants(t, tree)
	})

	t.Run("insert all", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 0, 0}})

		require.Equal(t, 2, tree.Size())
		require.ElementsMatch(t, []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}}, tree.Members())
		checkInvariants(t, tree)
	})

	t.Run("insert after balance lands in the deepest node", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}})
		tree.Balance(1, 0)

		tree.Insert(mgl32.Vec3{0.25, 0, 0})
		n, ok := tree.members.get(mgl32.Vec3{0.25, 0, 0})
		require.True(t, ok)
		require.True(t, n.isLeaf())

		// On the root split plane.
		tree.Insert(mgl32.Vec3{1.5, 0, 0})
		n, _ = tree.members.get(mgl32.Vec3{1.5, 0, 0})
		require.Same(t, tree.root, n)

		require.Equal(t, 1, tree.Stats().InternalMembers)
		checkInvariants(t, tree)
	})
}

func TestTreeRemove(t *testing.T) {
	t.Run("remove a member", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
		tree.Remove(mgl32.Vec3{1, 0, 0})

		require.Equal(t, 2, tree.Size())
		require.False(t, tree.Contains(mgl32.Vec3{1, 0, 0}))
		require.ElementsMatch(t, []mgl32.Vec3{{0, 0, 0}, {2, 0, 0}}, tree.QueryBox(geom.Unbounded()))
		checkInvariants(t, tree)
	})

	t.Run("remove keeps the split planes", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}})
		tree.Balance(1, 0)
		before := tree.Stats()

		tree.Remove(mgl32.Vec3{0, 0, 0})
		tree.Remove(mgl32.Vec3{1, 0, 0})

		after := tree.Stats()
		require.Equal(t, before.Nodes, after.Nodes)
		require.Equal(t, 2, after.Members)
	})

	t.Run("removing a non member panics", func(t *testing.T) {
		tree := newVecTree()
		tree.Insert(mgl32.Vec3{0, 0, 0})

		requirePanicsWithType(t, ErrTypeNotMember, func() {
			tree.Remove(mgl32.Vec3{1, 1, 1})
		})
		require.Equal(t, 1, tree.Size())
	})

	t.Run("random removals", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(1))
		positions := randomPositions(rnd, 100, 0)
		tree := indexTree(positions)
		for i := range positions {
			tree.Insert(i)
		}
		tree.Balance(DefaultValuesPerNode, DefaultNumMeanSplits)

		removed := rnd.Perm(len(positions))[:50]
		for _, i := range removed {
			tree.Remove(i)
		}

		require.Equal(t, 50, tree.Size())
		isRemoved := make(map[int]bool)
		for _, i := range removed {
			isRemoved[i] = true
		}
		for i := range positions {
			require.Equal(t, !isRemoved[i], tree.Contains(i))
		}
		checkInvariants(t, tree)
	})
}

func TestTreeUpdate(t *testing.T) {
	positions := []mgl32.Vec3{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}, {3, 3, 3}}
	tree := indexTree(positions)

	t.Run("update inserts new members", func(t *testing.T) {
		for i := range positions {
			tree.Update(i)
		}
		require.Equal(t, len(positions), tree.Size())
		tree.Balance(1, 0)
	})

	t.Run("update tracks moved members", func(t *testing.T) {
		positions[0] = mgl32.Vec3{5, 5, 5}
		tree.Update(0)

		require.Equal(t, len(positions), tree.Size())
		require.ElementsMatch(t, []int{0}, tree.QueryBox(geom.NewBox(mgl32.Vec3{4, 4, 4}, mgl32.Vec3{6, 6, 6})))
		require.Empty(t, tree.QueryBox(geom.NewBox(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{0.5, 0.5, 0.5})))
		checkInvariants(t, tree)
	})
}

func TestTreeClear(t *testing.T) {
	tree := newVecTree()
	tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}})
	tree.Balance(1, 0)

	t.Run("clear members keeps the structure", func(t *testing.T) {
		nodes := tree.Stats().Nodes
		tree.ClearMembers()

		require.Zero(t, tree.Size())
		require.Equal(t, nodes, tree.Stats().Nodes)
		require.Empty(t, tree.QueryBox(geom.Unbounded()))

		tree.Insert(mgl32.Vec3{3, 0, 0})
		require.Equal(t, 1, tree.Size())
		checkInvariants(t, tree)
	})

	t.Run("clear drops everything", func(t *testing.T) {
		tree.Clear()

		require.Zero(t, tree.Size())
		require.Equal(t, Stats{}, tree.Stats())
		require.False(t, tree.Contains(mgl32.Vec3{3, 0, 0}))
	})
}

func TestTreeClone(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	tree := newVecTree()
	tree.InsertAll(randomPositions(rnd, 64, 0))
	tree.Balance(4, 1)

	c := tree.Clone()
	checkInvariants(t, c)
	require.Equal(t, tree.Stats(), c.Stats())
	require.ElementsMatch(t, tree.Members(), c.Members())

	p := tree.Members()[0]
	c.Remove(p)
	require.True(t, tree.Contains(p))
	require.False(t, c.Contains(p))
	checkInvariants(t, tree)
}

func TestTreeAll(t *testing.T) {
	tree := newVecTree()
	tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})

	var members []mgl32.Vec3
	for v := range tree.All() {
		members = append(members, v)
	}
	require.ElementsMatch(t, tree.Members(), members)

	count := 0
	for range tree.All() {
		count++
		break
	}
	require.Equal(t, 1, count)
}

func TestMembershipSequences(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	positions := randomPositions(rnd, 40, 10)
	tree := indexTree(positions)
	present := make(map[int]bool)

	for step := 0; step < 2000; step++ {
		i := rnd.Intn(len(positions))

		switch rnd.Intn(4) {
		case 0:
			tree.Insert(i)
			present[i] = true
		case 1:
			if present[i] {
				tree.Remove(i)
				delete(present, i)
			}
		case 2:
			positions[i] = randomPosition(rnd, 10)
			tree.Update(i)
			present[i] = true
		case 3:
			if step%50 == 0 {
				tree.Balance(1+rnd.Intn(4), rnd.Intn(3))
			}
		}

		require.Equal(t, len(present), tree.Size())
	}

	for i := range positions {
		require.Equal(t, present[i], tree.Contains(i))
	}
	checkInvariants(t, tree)
}
