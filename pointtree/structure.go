package pointtree

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geom"
	"github.com/go-gl/mathgl/mgl32"
)

// maxStructureDepth bounds the nesting accepted when reading a structure.
const maxStructureDepth = 512

// structureRecord is the fixed part of a serialized node, written after its
// presence byte.
type structureRecord struct {
	Min      [3]float32
	Max      [3]float32
	Axis     uint8
	Location float32
}

// SerializeStructure writes the split planes of the tree, not its members.
// Nodes are written in pre-order: a presence byte, then for present nodes the
// split bounds, axis and location followed by the left and right children.
//
// Restoring the structure with DeserializeStructure and inserting a similar
// member set skips the cost of Balance.
func (t *Tree[T]) SerializeStructure(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := writeNode(bw, t.root); err != nil {
		return errors.New("writing tree structure failed").Wrap(err)
	}
	return bw.Flush()
}

func writeNode[T comparable](w io.Writer, n *node[T]) error {
	if n == nil {
		_, err := w.Write([]byte{0})
		return err
	}

	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}

	rec := structureRecord{
		Min:      n.splitBounds.Min,
		Max:      n.splitBounds.Max,
		Axis:     uint8(n.splitAxis),
		Location: n.splitLocation,
	}
	if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
		return err
	}

	for _, c := range n.child {
		if err := writeNode(w, c); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeStructure replaces the tree with the structure read from r. The
// tree is left without members. On error the tree is not modified.
func (t *Tree[T]) DeserializeStructure(r io.Reader) error {
	root, err := readNode[T](bufio.NewReader(r), 0)
	if err != nil {
		return errors.New("reading tree structure failed").
			WithType(ErrTypeMalformedStructure).
			Wrap(err)
	}

	t.root = root
	t.members = newMemberTable[T](0)
	return nil
}

func readNode[T comparable](r io.Reader, depth int) (*node[T], error) {
	if depth > maxStructureDepth {
		return nil, errors.New("structure is too deep").
			WithTag("max_depth", maxStructureDepth)
	}

	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return nil, err
	}

	switch present[0] {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, errors.New("invalid node presence byte").
			WithTag("value", present[0])
	}

	var rec structureRecord
	if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
		return nil, err
	}

	axis := geom.Axis(rec.Axis)
	if !axis.Valid() {
		return nil, errors.New("invalid split axis").
			WithTag("axis", rec.Axis)
	}

	n := &node[T]{
		splitBounds:   geom.NewBox(mgl32.Vec3(rec.Min), mgl32.Vec3(rec.Max)),
		splitAxis:     axis,
		splitLocation: rec.Location,
	}

	for i := range n.child {
		c, err := readNode[T](r, depth+1)
		if err != nil {
			return nil, err
		}
		n.child[i] = c
	}
	return n, nil
}
