package models

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeMalformedSpace = "malformed_space"

	encodingVersion = 1

	// Upper bound of the encoded header, which only holds a few fields.
	maxHeaderSize = 1 << 16
)

type spaceHeader struct {
	Version   int           `json:"version"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	Config    BalanceConfig `json:"config"`
	Points    int           `json:"points"`
}

type pointRecord struct {
	ID       uint32
	Position [3]float32
}

// Encode writes the whole space to w: a length-prefixed JSON header, the
// points and the tree structure.
func (s *Space) Encode(w io.Writer) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	header, err := json.Marshal(spaceHeader{
		Version:   encodingVersion,
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
		Config:    s.config,
		Points:    len(s.positions),
	})
	if err != nil {
		return errors.New("encoding space header failed").Wrap(err)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	if _, err := bw.Write(header); err != nil {
		return err
	}

	for _, p := range s.points(s.tree.Members()) {
		rec := pointRecord{ID: p.ID, Position: p.Position}
		if err := binary.Write(bw, binary.LittleEndian, &rec); err != nil {
			return err
		}
	}

	if err := s.tree.SerializeStructure(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeSpace reads a space written with Encode. Points are put back in the
// tree structure they were encoded with.
func DecodeSpace(r io.Reader) (*Space, error) {
	br := bufio.NewReader(r)

	var size uint32
	if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
		return nil, malformedSpace(err)
	}
	if size > maxHeaderSize {
		return nil, malformedSpace(errors.New("header is too large").
			WithTag("size", size))
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(br, b); err != nil {
		return nil, malformedSpace(err)
	}

	var header spaceHeader
	if err := json.Unmarshal(b, &header); err != nil {
		return nil, malformedSpace(err)
	}
	if header.Version != encodingVersion {
		return nil, malformedSpace(errors.New("unsupported version").
			WithTag("version", header.Version))
	}
	if err := header.Config.Validate(); err != nil {
		return nil, malformedSpace(err)
	}

	s := newSpace(header.ID, header.Name, header.Config, header.CreatedAt)
	for i := 0; i < header.Points; i++ {
		var rec pointRecord
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			return nil, malformedSpace(err)
		}
		if _, dup := s.positions[rec.ID]; dup || rec.ID == 0 {
			return nil, malformedSpace(errors.New("invalid point id").
				WithTag("point_id", rec.ID))
		}
		if err := checkPosition(rec.Position); err != nil {
			return nil, malformedSpace(err)
		}

		s.positions[rec.ID] = rec.Position
		s.ids.Reserve(rec.ID)
	}

	if err := s.restoreStructure(br); err != nil {
		return nil, malformedSpace(err)
	}
	return s, nil
}

func malformedSpace(err error) error {
	return errors.New("decoding space failed").
		WithType(ErrTypeMalformedSpace).
		Wrap(err)
}
