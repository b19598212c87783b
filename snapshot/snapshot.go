// Package snapshot persists spaces on disk as zstd compressed files.
package snapshot

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/models"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

const (
	ErrTypeSnapshotNotFound = "snapshot_not_found"
	ErrTypeInvalidSnapshot  = "invalid_snapshot"

	fileExt = ".kzs"

	// Maximum number of snapshots written at once.
	saveConcurrency = 8
)

// Store reads and writes snapshots in a directory, one file per space.
type Store struct {
	Dir string

	// The zstd encoder level. Defaults to zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.New("invalid snapshot id").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("id", id)
	}
	return filepath.Join(s.Dir, id+fileExt), nil
}

// Save writes the snapshot of id with write. The previous snapshot is only
// replaced once write succeeded.
func (s *Store) Save(id string, write func(io.Writer) error) error {
	filename, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.New("creating snapshot directory failed").
			WithTag("dir", s.Dir).
			Wrap(err)
	}

	tmp, err := os.CreateTemp(s.Dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.New("creating snapshot file failed").
			WithTag("id", id).
			Wrap(err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if err := s.compress(tmp, write); err != nil {
		return errors.New("writing snapshot failed").
			WithTag("id", id).
			Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return errors.New("replacing snapshot failed").
			WithTag("id", id).
			Wrap(err)
	}
	tmpName = ""
	return nil
}

func (s *Store) compress(w io.Writer, write func(io.Writer) error) error {
	level := s.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(enc)
	if err := write(bw); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Load opens the snapshot of id and hands its content to read.
func (s *Store) Load(id string, read func(io.Reader) error) error {
	filename, err := s.path(id)
	if err != nil {
		return err
	}

	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return errors.New("snapshot not found").
			WithType(ErrTypeSnapshotNotFound).
			WithTag("id", id).
			Wrap(err)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := read(dec); err != nil {
		return errors.New("reading snapshot failed").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("id", id).
			Wrap(err)
	}
	return nil
}

// Delete removes the snapshot of id. Deleting a missing snapshot is not an
// error.
func (s *Store) Delete(id string) error {
	filename, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return errors.New("deleting snapshot failed").
			WithTag("id", id).
			Wrap(err)
	}
	return nil
}

// List returns the ids of the stored snapshots.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("listing snapshots failed").
			WithTag("dir", s.Dir).
			Wrap(err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	return ids, nil
}

// SaveSpace writes the snapshot of a space.
func (s *Store) SaveSpace(space *models.Space) error {
	return s.Save(space.ID, space.Encode)
}

// LoadSpace reads the space stored under id. The snapshot is rejected when it
// holds a space with another id.
func (s *Store) LoadSpace(id string) (*models.Space, error) {
	var space *models.Space
	err := s.Load(id, func(r io.Reader) error {
		decoded, err := models.DecodeSpace(r)
		if err != nil {
			return err
		}
		if decoded.ID != id {
			return errors.New("snapshot holds another space").
				WithTag("space_id", decoded.ID)
		}
		space = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return space, nil
}

// SaveSpaces writes the snapshots of spaces concurrently. It returns the first
// error encountered.
func (s *Store) SaveSpaces(ctx context.Context, spaces []*models.Space) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveConcurrency)

	for _, space := range spaces {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.SaveSpace(space)
		})
	}
	return g.Wait()
}

// LoadSpaces reads every stored space. Snapshots that cannot be read are
// logged and skipped.
func (s *Store) LoadSpaces() ([]*models.Space, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	spaces := make([]*models.Space, 0, len(ids))
	for _, id := range ids {
		space, err := s.LoadSpace(id)
		if err != nil {
			logs.WithTag("id", id).Error(err)
			continue
		}
		spaces = append(spaces, space)
	}
	return spaces, nil
}
