// Package pointtree implements an axis-aligned binary space partitioning tree
// over sets of point-like members. It answers box, sphere and plane-set
// (frustum) containment queries and supports incremental membership changes.
//
// The tree is not safe for concurrent use. Callers sharing a tree across
// goroutines must serialize access themselves.
package pointtree

import (
	"iter"
	"slices"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
)

// PositionFunc returns the position of a member. It is called once per
// insertion and the result is cached until the member is removed.
type PositionFunc[T any] func(T) mgl32.Vec3

// Tree is a set of members indexed by position. Members are compared and
// hashed as map keys, so their identity must not depend on their position
// when they are expected to move (see Update).
type Tree[T comparable] struct {
	position PositionFunc[T]
	root     *node[T]
	members  memberTable[T]
}

// New returns an empty tree that locates members with position.
func New[T comparable](position PositionFunc[T]) *Tree[T] {
	return &Tree[T]{
		position: position,
		members:  newMemberTable[T](0),
	}
}

// Size returns the number of members.
func (t *Tree[T]) Size() int {
	return t.members.size()
}

func (t *Tree[T]) Contains(v T) bool {
	return t.members.containsKey(v)
}

// Insert adds v to the tree at the deepest node containing its position. It
// does nothing when v is already a member. The structure is never rebalanced.
func (t *Tree[T]) Insert(v T) {
	if t.Contains(v) {
		return
	}

	h := handle[T]{position: t.position(v), value: v}

	if t.root == nil {
		t.root = newNode[T]()
	}

	n := t.root.findDeepestContainingNode(h.position)
	n.handles = append(n.handles, h)
	t.members.set(v, n)
}

func (t *Tree[T]) InsertAll(values []T) {
	for _, v := range values {
		t.Insert(v)
	}
}

// Remove deletes v from the tree. Split planes are left untouched so the
// structure stays valid for serialization.
//
// Removing a value that is not a member is a programming error and panics.
func (t *Tree[T]) Remove(v T) {
	n, ok := t.members.get(v)
	if !ok || !n.removeHandle(v) {
		panic(errors.New("removing a value that is not a member").
			WithType(ErrTypeNotMember).
			WithTag("value", v))
	}
	t.members.remove(v)
}

// Update removes v when it is a member, then inserts it again at its current
// position. It is the way to track members that moved.
func (t *Tree[T]) Update(v T) {
	if t.Contains(v) {
		t.Remove(v)
	}
	t.Insert(v)
}

// Clear removes all members and the structure.
func (t *Tree[T]) Clear() {
	t.root = nil
	t.members = newMemberTable[T](0)
}

// ClearMembers removes all members but keeps the split planes, so the tree
// can be repopulated into the same structure.
func (t *Tree[T]) ClearMembers() {
	if t.root != nil {
		t.root.clearHandles()
	}
	t.members = newMemberTable[T](0)
}

// Members returns all the members in no particular order.
func (t *Tree[T]) Members() []T {
	return slices.Collect(t.members.keys())
}

// All iterates over the members in no particular order. The tree must not be
// modified during the iteration.
func (t *Tree[T]) All() iter.Seq[T] {
	return t.members.keys()
}

// Clone returns a deep copy of the tree. Members are copied by value.
func (t *Tree[T]) Clone() *Tree[T] {
	c := New(t.position)
	if t.root != nil {
		c.members = newMemberTable[T](t.members.size())
		c.root = t.root.clone(c.members)
	}
	return c
}
