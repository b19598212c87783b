package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeInvalidMsg = "invalid_ws_msg"

	msgTypeStream = "stream"
	msgTypeBatch  = "batch"
	msgTypeDone   = "done"
)

// StreamRequest asks for the points of a space within a box.
type StreamRequest struct {
	RequestID uint32     `json:"request_id"`
	Min       mgl32.Vec3 `json:"min"`
	Max       mgl32.Vec3 `json:"max"`

	// The maximum number of points per response. Zero uses the server
	// default.
	BatchSize int `json:"batch_size,omitempty"`
}

// StreamResponse carries a batch of the points answering a request. The last
// response of a request has Done set and no points.
type StreamResponse struct {
	RequestID uint32         `json:"request_id"`
	Points    []models.Point `json:"points,omitempty"`
	Done      bool           `json:"done,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

func (r StreamResponse) msgType() string {
	if r.Done {
		return msgTypeDone
	}
	return msgTypeBatch
}

// Receiver reads the next request from a connection and returns the number
// of bytes read.
type Receiver func() (StreamRequest, int, error)

// Sender writes a response to a connection and returns the number of bytes
// written.
type Sender func(StreamResponse) (int, error)

// ResponseSender is the interface that describes how a handler responds to a
// request. Send fails once the connection is closing.
type ResponseSender interface {
	Send(StreamResponse) error
}

func newReceiver(conn *websocket.Conn) Receiver {
	return func() (StreamRequest, int, error) {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return StreamRequest{}, 0, err
		}

		var req StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return StreamRequest{}, len(data), errors.New("decoding stream request failed").
				WithType(ErrTypeInvalidMsg).
				Wrap(err)
		}
		return req, len(data), nil
	}
}

func newSender(conn *websocket.Conn) Sender {
	return func(res StreamResponse) (int, error) {
		data, err := json.Marshal(res)
		if err != nil {
			return 0, err
		}
		if err := websocket.Message.Send(conn, string(data)); err != nil {
			return 0, err
		}
		return len(data), nil
	}
}
