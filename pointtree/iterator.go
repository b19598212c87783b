package pointtree

import (
	"iter"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/geom"
)

// BoxIterator walks the members inside a box one at a time, in the same
// order QueryBox returns them. It is a forward-only cursor: once Done it
// cannot be restarted, a new one has to be created with BeginBoxIntersection.
//
// The tree must not be modified while an iterator is in use.
type BoxIterator[T comparable] struct {
	box geom.Box

	// Node whose handles are being scanned and index of the current handle.
	node  *node[T]
	index int

	// Nodes left to visit, next one on top.
	stack []*node[T]

	done bool
}

// BeginBoxIntersection returns an iterator positioned on the first member
// inside box, or already done when there is none.
func (t *Tree[T]) BeginBoxIntersection(box geom.Box) *BoxIterator[T] {
	it := &BoxIterator[T]{
		box:   box,
		node:  t.root,
		index: -1,
		done:  t.root == nil,
	}

	// Starting one before the first handle lets advance do the initial
	// search.
	it.advance()
	return it
}

// BoxIntersection iterates over the members inside box.
func (t *Tree[T]) BoxIntersection(box geom.Box) iter.Seq[T] {
	return func(yield func(T) bool) {
		for it := t.BeginBoxIntersection(box); !it.Done(); it.Next() {
			if !yield(it.Value()) {
				return
			}
		}
	}
}

// Done reports whether the iterator moved past the last member.
func (it *BoxIterator[T]) Done() bool {
	return it.done
}

// Value returns the current member. It panics when the iterator is done.
func (it *BoxIterator[T]) Value() T {
	it.mustNotBeDone()
	return it.node.handles[it.index].value
}

// Next moves to the next member inside the box. It panics when the iterator
// is done.
func (it *BoxIterator[T]) Next() {
	it.mustNotBeDone()
	it.advance()
}

func (it *BoxIterator[T]) mustNotBeDone() {
	if it.done {
		panic(errors.New("box iterator is exhausted").
			WithType(ErrTypeIteratorExhausted))
	}
}

func (it *BoxIterator[T]) advance() {
	it.index++

	for !it.done {
		// Move to the next node with handles left, queuing the children
		// of the exhausted one. The right child is pushed first so the
		// left subtree is visited first.
		for !it.done && it.index >= len(it.node.handles) {
			n := it.node
			if n.child[1] != nil && it.box.Max[n.splitAxis] > n.splitLocation {
				it.stack = append(it.stack, n.child[1])
			}
			if n.child[0] != nil && it.box.Min[n.splitAxis] <= n.splitLocation {
				it.stack = append(it.stack, n.child[0])
			}

			if len(it.stack) == 0 {
				it.node = nil
				it.done = true
				break
			}

			last := len(it.stack) - 1
			it.node = it.stack[last]
			it.stack[last] = nil
			it.stack = it.stack[:last]
			it.index = 0
		}

		for !it.done && it.index < len(it.node.handles) {
			if it.box.Contains(it.node.handles[it.index].position) {
				return
			}
			it.index++
		}
	}
}
