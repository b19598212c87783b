package models

import (
	"cmp"
	"slices"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/featureflag"
)

// SpaceStore holds the spaces served by the process.
type SpaceStore struct {
	// Flags given to every space added to the store.
	FeatureFlags featureflag.FeatureFlag

	initOnce sync.Once
	mutex    sync.RWMutex
	spaces   map[string]*Space
}

func (s *SpaceStore) init() {
	s.spaces = make(map[string]*Space)
}

func (s *SpaceStore) Add(space *Space) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.spaces[space.ID]; ok {
		return errors.New("space already exists").
			WithType(ErrTypeSpaceExists).
			WithTag("space_id", space.ID)
	}

	space.FeatureFlags = s.FeatureFlags
	s.spaces[space.ID] = space
	space.setInstrumented(true)

	instrumentIncreaseSpaceGauge()
	return nil
}

func (s *SpaceStore) Remove(id string) (*Space, error) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	space, ok := s.spaces[id]
	if !ok {
		return nil, spaceNotFound(id)
	}
	delete(s.spaces, id)

	space.setInstrumented(false)
	instrumentDecreaseSpaceGauge()
	return space, nil
}

func (s *SpaceStore) Get(id string) (*Space, error) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	space, ok := s.spaces[id]
	if !ok {
		return nil, spaceNotFound(id)
	}
	return space, nil
}

// List returns the spaces ordered by creation time.
func (s *SpaceStore) List() []*Space {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	spaces := make([]*Space, 0, len(s.spaces))
	for _, space := range s.spaces {
		spaces = append(spaces, space)
	}

	slices.SortFunc(spaces, func(a, b *Space) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return spaces
}

func (s *SpaceStore) Len() int {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.spaces)
}

func spaceNotFound(id string) error {
	return errors.New("space not found").
		WithType(ErrTypeSpaceNotFound).
		WithTag("space_id", id)
}
