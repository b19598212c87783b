package pointtree

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aukilabs/kenaz/geom"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestBalance(t *testing.T) {
	t.Run("empty tree", func(t *testing.T) {
		tree := newVecTree()
		tree.Balance(DefaultValuesPerNode, DefaultNumMeanSplits)
		require.Equal(t, Stats{}, tree.Stats())
	})

	t.Run("leaves respect values per node", func(t *testing.T) {
		for _, valuesPerNode := range []int{1, 2, 5, DefaultValuesPerNode} {
			rnd := rand.New(rand.NewSource(int64(valuesPerNode)))
			tree := newVecTree()
			tree.InsertAll(randomPositions(rnd, 1000, 0))
			tree.Balance(valuesPerNode, DefaultNumMeanSplits)

			s := tree.Stats()
			require.Equal(t, 1000, s.Members)
			require.LessOrEqual(t, s.MaxLeafSize, valuesPerNode)
			require.Zero(t, s.InternalMembers)
			checkInvariants(t, tree)
		}
	})

	t.Run("values per node below one", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
		tree.Balance(0, 0)

		s := tree.Stats()
		require.Equal(t, 1, s.MaxLeafSize)
		require.Equal(t, 3, s.Leaves)
	})

	t.Run("mean then median splits", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {10, 0, 0}})
		tree.Balance(1, 1)

		require.Equal(t, geom.X, tree.root.splitAxis)
		require.Equal(t, float32(5), tree.root.splitLocation)
		require.Equal(t, float32(1.5), tree.root.child[0].splitLocation)
		require.True(t, tree.root.child[1].isLeaf())
		checkInvariants(t, tree)
	})

	t.Run("splits the longest axis", func(t *testing.T) {
		tree := newVecTree()
		tree.InsertAll([]mgl32.Vec3{{0, 0, 0}, {0, 0, 4}, {1, 1, 2}})
		tree.Balance(1, 0)

		require.Equal(t, geom.Z, tree.root.splitAxis)
	})

	t.Run("coincident members", func(t *testing.T) {
		positions := make([]mgl32.Vec3, 10)
		tree := indexTree(positions)
		for i := range positions {
			tree.Insert(i)
		}
		tree.Balance(2, 0)

		s := tree.Stats()
		require.Equal(t, 1, s.Nodes)
		require.Equal(t, 10, s.MaxLeafSize)
		require.Len(t, tree.QuerySphere(geom.NewSphere(mgl32.Vec3{}, 0)), 10)
	})

	t.Run("members sharing the maximum", func(t *testing.T) {
		positions := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}}
		tree := indexTree(positions)
		for i := range positions {
			tree.Insert(i)
		}
		tree.Balance(1, 0)

		require.Equal(t, float32(0.5), tree.root.splitLocation)
		s := tree.Stats()
		require.Equal(t, 2, s.Leaves)
		require.Equal(t, 4, s.MaxLeafSize)
		require.ElementsMatch(t, []int{1, 2, 3, 4}, tree.QueryBox(geom.NewBox(mgl32.Vec3{1, 0, 0}, mgl32.Vec3{1, 0, 0})))
		checkInvariants(t, tree)
	})

	t.Run("members sharing the median", func(t *testing.T) {
		positions := []mgl32.Vec3{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {1, 0, 0}}
		tree := indexTree(positions)
		for i := range positions {
			tree.Insert(i)
		}
		tree.Balance(1, 0)

		require.Equal(t, float32(0), tree.root.splitLocation)
		require.ElementsMatch(t, []int{5}, tree.QueryBox(geom.NewBox(mgl32.Vec3{0.5, -1, -1}, mgl32.Vec3{2, 1, 1})))
		require.Len(t, tree.QueryBox(geom.NewBox(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{0, 1, 1})), 5)
		checkInvariants(t, tree)
	})

	t.Run("infinite members", func(t *testing.T) {
		inf := float32(math.Inf(1))
		for _, numMeanSplits := range []int{0, DefaultNumMeanSplits} {
			tree := newVecTree()
			tree.InsertAll([]mgl32.Vec3{{-inf, 0, 0}, {inf, 0, 0}, {0, 0, 0}, {1, 0, 0}})
			tree.Balance(1, numMeanSplits)

			s := tree.Stats()
			require.Equal(t, 4, s.Members)
			require.Equal(t, 1, s.MaxLeafSize)
			require.Len(t, tree.QueryBox(geom.Unbounded()), 4)
			require.ElementsMatch(t, []mgl32.Vec3{{inf, 0, 0}}, tree.QueryBox(geom.NewBox(mgl32.Vec3{2, -1, -1}, mgl32.Vec3{inf, 1, 1})))
			checkInvariants(t, tree)
		}
	})

	t.Run("nan members", func(t *testing.T) {
		inf := float32(math.Inf(1))
		nan := float32(math.NaN())
		positions := []mgl32.Vec3{{nan, 0, 0}, {-inf, 0, 0}, {inf, 0, 0}, {0, 0, 0}, {1, nan, 0}, {2, 0, 0}}

		for _, numMeanSplits := range []int{0, DefaultNumMeanSplits} {
			tree := indexTree(positions)
			for i := range positions {
				tree.Insert(i)
			}
			tree.Balance(1, numMeanSplits)

			require.Equal(t, len(positions), tree.Stats().Members)
			require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, tree.Members())
		}
	})

	t.Run("rebalancing keeps members", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(5))
		tree := newVecTree()
		tree.InsertAll(randomPositions(rnd, 200, 0))
		tree.Balance(3, 1)
		tree.InsertAll(randomPositions(rnd, 100, 0))
		require.NotZero(t, tree.Size())

		members := tree.Members()
		tree.Balance(DefaultValuesPerNode, DefaultNumMeanSplits)

		require.ElementsMatch(t, members, tree.Members())
		require.Zero(t, tree.Stats().InternalMembers)
		checkInvariants(t, tree)
	})
}
