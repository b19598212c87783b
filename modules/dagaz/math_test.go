package dagaz

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/hagall-common/messages/dagazpb"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestInRangeWithEpsilon(t *testing.T) {
	require.True(t, InRangeWithEpsilon(1.00005, 0, 1, 0.0001))
	require.False(t, InRangeWithEpsilon(1.1, 0, 1, 0.0001))
}

func TestIntersectQuad(t *testing.T) {
	quad := NewQuad(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 1})

	t.Run("hit", func(t *testing.T) {
		hit, d := IntersectQuad(Ray{From: mgl32.Vec3{0, 10, 0}, To: mgl32.Vec3{0, -10, 0}}, quad)
		require.True(t, hit)
		require.InDelta(t, 0.5, d, 0.0001)
	})

	t.Run("edge hit", func(t *testing.T) {
		hit, _ := IntersectQuad(Ray{From: mgl32.Vec3{1, 1, 1}, To: mgl32.Vec3{1, -1, 1}}, quad)
		require.True(t, hit)
	})

	t.Run("outside the quad", func(t *testing.T) {
		hit, d := IntersectQuad(Ray{From: mgl32.Vec3{2, 1, 0}, To: mgl32.Vec3{2, -1, 0}}, quad)
		require.False(t, hit)
		require.Equal(t, float32(-1), d)
	})

	t.Run("segment too short", func(t *testing.T) {
		hit, _ := IntersectQuad(Ray{From: mgl32.Vec3{0, 2, 0}, To: mgl32.Vec3{0, 1, 0}}, quad)
		require.False(t, hit)
	})

	t.Run("parallel ray", func(t *testing.T) {
		hit, _ := IntersectQuad(Ray{From: mgl32.Vec3{-2, 0, 0}, To: mgl32.Vec3{2, 0, 0}}, quad)
		require.False(t, hit)
	})
}

func TestDoHorizontalPlanesOverlap(t *testing.T) {
	quad := NewQuad(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 1})
	require.True(t, doHorizontalPlanesOverlap(quad, quad))

	anotherQuad := NewQuad(mgl32.Vec3{10, 0, 0}, mgl32.Vec3{1, 0, 1})
	require.False(t, doHorizontalPlanesOverlap(quad, anotherQuad))

	touching := NewQuad(mgl32.Vec3{2, 0, 0}, mgl32.Vec3{1, 0, 1})
	require.False(t, doHorizontalPlanesOverlap(quad, touching))
}

func TestCalculateNormal(t *testing.T) {
	normal := calculateNormal(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 1})
	require.True(t, normal.ApproxEqualThreshold(mgl32.Vec3{0, 1, 0}, 0.0001))

	require.Equal(t, mgl32.Vec3{}, calculateNormal(mgl32.Vec3{}, mgl32.Vec3{}))
}

func TestQuadMerge(t *testing.T) {
	q := NewQuad(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 1})
	q.merge(NewQuad(mgl32.Vec3{1, 0.5, 0}, mgl32.Vec3{2, 0, 1}))

	require.True(t, q.Center.ApproxEqualThreshold(mgl32.Vec3{0.2, 0.1, 0}, 0.0001))
	require.True(t, q.Extents.ApproxEqualThreshold(mgl32.Vec3{1.2, 0, 1}, 0.0001))
	require.Equal(t, uint32(1), q.MergeCount)
}

func TestQuadProtobuf(t *testing.T) {
	q, err := NewQuadFromProtobuf(&dagazpb.Quad{
		Center:     &dagazpb.Point{X: 1, Y: 2, Z: 3},
		Extents:    &dagazpb.Point{X: 1, Y: 0, Z: 1},
		MergeCount: 4,
	})
	require.NoError(t, err)
	require.Equal(t, mgl32.Vec3{1, 2, 3}, q.Center)
	require.Equal(t, uint32(4), q.MergeCount)
	require.True(t, q.Normal.ApproxEqualThreshold(mgl32.Vec3{0, 1, 0}, 0.0001))

	pb := q.ToProtobuf()
	require.Equal(t, float32(2), pb.Center.Y)
	require.Equal(t, uint32(4), pb.MergeCount)

	require.Equal(t, mgl32.Vec3{}, NewVec3FromProtobuf(nil))
	require.Equal(t, Ray{}, NewRayFromProtobuf(nil))

	t.Run("non finite quad", func(t *testing.T) {
		inf := float32(math.Inf(1))
		for _, pb := range []*dagazpb.Quad{
			{Center: &dagazpb.Point{X: -inf}},
			{Center: &dagazpb.Point{}, Extents: &dagazpb.Point{Z: float32(math.NaN())}},
		} {
			_, err := NewQuadFromProtobuf(pb)
			require.Error(t, err)
			require.Equal(t, models.ErrTypeInvalidArgument, errors.Type(err))
		}
	})
}
