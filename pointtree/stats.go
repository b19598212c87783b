package pointtree

// Stats describes the shape of a tree.
type Stats struct {
	Members     int `json:"members"`
	Nodes       int `json:"nodes"`
	Leaves      int `json:"leaves"`
	MaxDepth    int `json:"max_depth"`
	MaxLeafSize int `json:"max_leaf_size"`

	// Members held by internal nodes, inserted on a split plane or where a
	// child was missing since the last Balance.
	InternalMembers int `json:"internal_members"`

	// Member count of every leaf, in depth first order, left child first.
	Occupancy []int `json:"occupancy,omitempty"`
}

func (t *Tree[T]) Stats() Stats {
	s := Stats{Members: t.members.size()}
	if t.root != nil {
		t.root.stats(&s, 1)
	}
	return s
}

func (n *node[T]) stats(s *Stats, depth int) {
	s.Nodes++
	s.MaxDepth = max(s.MaxDepth, depth)

	if n.isLeaf() {
		s.Leaves++
		s.MaxLeafSize = max(s.MaxLeafSize, len(n.handles))
		s.Occupancy = append(s.Occupancy, len(n.handles))
		return
	}

	s.InternalMembers += len(n.handles)
	for _, c := range n.child {
		if c != nil {
			c.stats(s, depth+1)
		}
	}
}
