// Package weld merges nearly coincident vertices of triangle meshes.
package weld

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/pointtree"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	ErrTypeInvalidMesh    = "weld_invalid_mesh"
	ErrTypeInvalidOptions = "weld_invalid_options"
)

// Mesh is an indexed triangle list. Normals and TexCoords are optional; when
// set they hold one entry per vertex.
type Mesh struct {
	Vertices  []mgl32.Vec3 `json:"vertices"`
	Normals   []mgl32.Vec3 `json:"normals,omitempty"`
	TexCoords []mgl32.Vec2 `json:"tex_coords,omitempty"`
	Indices   []int        `json:"indices"`
}

type Options struct {
	// Distance under which vertices collapse onto the first one seen.
	VertexRadius float32 `json:"vertex_radius"`

	// Distance in texture space under which coordinates of vertices sharing
	// a position are merged.
	TexCoordRadius float32 `json:"tex_coord_radius"`

	// Distance under which normals are averaged, provided they differ by
	// less than SmoothingAngle radians.
	NormalRadius   float32 `json:"normal_radius"`
	SmoothingAngle float32 `json:"smoothing_angle"`
}

func DefaultOptions() Options {
	return Options{
		VertexRadius:   0.0001,
		TexCoordRadius: 0.0001,
		NormalRadius:   0.0001,
		SmoothingAngle: mgl32.DegToRad(70),
	}
}

// Validate reports an error when a radius or the smoothing angle is negative
// or not finite.
func (o Options) Validate() error {
	for _, opt := range []struct {
		name  string
		value float32
	}{
		{name: "vertex_radius", value: o.VertexRadius},
		{name: "tex_coord_radius", value: o.TexCoordRadius},
		{name: "normal_radius", value: o.NormalRadius},
		{name: "smoothing_angle", value: o.SmoothingAngle},
	} {
		if !(opt.value >= 0) || math.IsInf(float64(opt.value), 1) {
			return errors.New("weld option must be a finite non negative number").
				WithType(ErrTypeInvalidOptions).
				WithTag(opt.name, opt.value)
		}
	}
	return nil
}

// corners holds one entry per index of the mesh, so that a vertex used by
// several triangles can end up with different attributes.
type corners struct {
	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	texCoords []mgl32.Vec2
}

// Weld returns a copy of m where vertices closer than opts.VertexRadius are
// merged and normals are smoothed. Missing normals are generated from the
// faces. The result only holds the vertices its indices use.
func Weld(m Mesh, opts Options) (Mesh, error) {
	if err := opts.Validate(); err != nil {
		return Mesh{}, err
	}
	if err := validate(m); err != nil {
		return Mesh{}, err
	}

	c := expand(m)
	tree := pointtree.New(func(i int) mgl32.Vec3 { return c.positions[i] })
	for i := range c.positions {
		tree.Insert(i)
	}
	tree.Balance(pointtree.DefaultValuesPerNode, pointtree.DefaultNumMeanSplits)

	for i := range c.positions {
		for _, n := range tree.QuerySphere(geom.NewSphere(c.positions[i], opts.VertexRadius)) {
			if c.positions[n] != c.positions[i] {
				c.positions[n] = c.positions[i]
				tree.Update(n)
			}
		}
	}

	for i := range c.texCoords {
		for _, n := range tree.QuerySphere(geom.NewSphere(c.positions[i], 0)) {
			if c.texCoords[n].Sub(c.texCoords[i]).Len() <= opts.TexCoordRadius {
				c.texCoords[n] = c.texCoords[i]
			}
		}
	}

	smoothNormals(tree, c, opts)

	tree.ClearMembers()
	return rebuild(tree, c, m.TexCoords != nil), nil
}

func validate(m Mesh) error {
	if len(m.Indices)%3 != 0 {
		return errors.New("index count is not a multiple of 3").
			WithType(ErrTypeInvalidMesh).
			WithTag("indices", len(m.Indices))
	}
	if m.Normals != nil && len(m.Normals) != len(m.Vertices) {
		return errors.New("normal count does not match vertex count").
			WithType(ErrTypeInvalidMesh).
			WithTag("normals", len(m.Normals)).
			WithTag("vertices", len(m.Vertices))
	}
	if m.TexCoords != nil && len(m.TexCoords) != len(m.Vertices) {
		return errors.New("texture coordinate count does not match vertex count").
			WithType(ErrTypeInvalidMesh).
			WithTag("tex_coords", len(m.TexCoords)).
			WithTag("vertices", len(m.Vertices))
	}
	for i, v := range m.Vertices {
		if !geom.IsFinite(v) {
			return errors.New("vertex is not finite").
				WithType(ErrTypeInvalidMesh).
				WithTag("vertex", i)
		}
	}
	for _, idx := range m.Indices {
		if idx < 0 || idx >= len(m.Vertices) {
			return errors.New("index out of range").
				WithType(ErrTypeInvalidMesh).
				WithTag("index", idx).
				WithTag("vertices", len(m.Vertices))
		}
	}
	return nil
}

func expand(m Mesh) corners {
	n := len(m.Indices)
	c := corners{
		positions: make([]mgl32.Vec3, n),
		normals:   make([]mgl32.Vec3, n),
	}
	if m.TexCoords != nil {
		c.texCoords = make([]mgl32.Vec2, n)
	}

	for i, idx := range m.Indices {
		c.positions[i] = m.Vertices[idx]
		if m.TexCoords != nil {
			c.texCoords[i] = m.TexCoords[idx]
		}
		if m.Normals != nil {
			c.normals[i] = m.Normals[idx]
		}
	}

	if m.Normals == nil {
		for i := 0; i < n; i += 3 {
			p0, p1, p2 := c.positions[i], c.positions[i+1], c.positions[i+2]
			face := directionOrZero(p1.Sub(p0).Cross(p2.Sub(p0)))
			c.normals[i], c.normals[i+1], c.normals[i+2] = face, face, face
		}
	}
	return c
}

func smoothNormals(tree *pointtree.Tree[int], c corners, opts Options) {
	cosAngle := float32(math.Cos(float64(opts.SmoothingAngle)))

	// Averages are computed from the normals before smoothing so the result
	// does not depend on the corner order.
	original := make([]mgl32.Vec3, len(c.normals))
	copy(original, c.normals)

	for i := range c.normals {
		var sum mgl32.Vec3
		for _, n := range tree.QuerySphere(geom.NewSphere(c.positions[i], opts.NormalRadius)) {
			if original[i].Dot(original[n]) >= cosAngle {
				sum = sum.Add(original[n])
			}
		}
		c.normals[i] = directionOrZero(sum)
	}
}

// rebuild collects unique corners into a new mesh. The tree is expected to be
// empty and is filled with the corners kept as vertices.
func rebuild(tree *pointtree.Tree[int], c corners, withTexCoords bool) Mesh {
	var m Mesh
	m.Indices = make([]int, len(c.positions))
	vertexOf := make(map[int]int, len(c.positions))

	for i, p := range c.positions {
		found := false
		for _, n := range tree.QuerySphere(geom.NewSphere(p, 0)) {
			if c.positions[n] == p && c.normals[n] == c.normals[i] &&
				(!withTexCoords || c.texCoords[n] == c.texCoords[i]) {
				m.Indices[i] = vertexOf[n]
				found = true
				break
			}
		}
		if found {
			continue
		}

		tree.Insert(i)
		vertexOf[i] = len(m.Vertices)
		m.Indices[i] = len(m.Vertices)
		m.Vertices = append(m.Vertices, p)
		m.Normals = append(m.Normals, c.normals[i])
		if withTexCoords {
			m.TexCoords = append(m.TexCoords, c.texCoords[i])
		}
	}
	return m
}

func directionOrZero(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l == 0 {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}
