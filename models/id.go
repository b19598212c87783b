package models

import (
	"slices"
	"sync"
)

// PointIDs is a sequential id generator. Released ids are handed out again
// before new ones, lowest first.
type PointIDs struct {
	mutex     sync.Mutex
	currentID uint32
	released  []uint32 // sorted
}

// New returns an unused id. Ids start at 1.
func (g *PointIDs) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.released) != 0 {
		id := g.released[0]
		g.released = g.released[1:]
		return id
	}

	g.currentID++
	return g.currentID
}

// Release marks the given id as reusable.
func (g *PointIDs) Release(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}

	i, found := slices.BinarySearch(g.released, id)
	if !found {
		g.released = slices.Insert(g.released, i, id)
	}
}

// Reserve marks id as used so New never returns it. Ids skipped over become
// reusable.
func (g *PointIDs) Reserve(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 {
		return
	}

	if id > g.currentID {
		for skipped := g.currentID + 1; skipped < id; skipped++ {
			g.released = append(g.released, skipped)
		}
		g.currentID = id
		return
	}

	if i, found := slices.BinarySearch(g.released, id); found {
		g.released = slices.Delete(g.released, i, i+1)
	}
}
