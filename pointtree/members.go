package pointtree

import "iter"

// memberTable maps every member to the node currently holding it. Node
// references are only valid until the structure is rebuilt.
type memberTable[T comparable] map[T]*node[T]

func newMemberTable[T comparable](capacity int) memberTable[T] {
	return make(memberTable[T], capacity)
}

func (m memberTable[T]) set(v T, n *node[T]) {
	m[v] = n
}

func (m memberTable[T]) remove(v T) {
	delete(m, v)
}

func (m memberTable[T]) get(v T) (*node[T], bool) {
	n, ok := m[v]
	return n, ok
}

func (m memberTable[T]) containsKey(v T) bool {
	_, ok := m[v]
	return ok
}

func (m memberTable[T]) size() int {
	return len(m)
}

func (m memberTable[T]) keys() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range m {
			if !yield(v) {
				return
			}
		}
	}
}
