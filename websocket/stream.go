package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/models"
	"golang.org/x/net/websocket"
)

const (
	DefaultBatchSize    = 256
	DefaultMaxBatchSize = 4096
)

// StreamHandler streams the points of a space to a single connection. The
// points answering a request are copied out of the space before the first
// batch is sent, so a slow connection holds no space lock but keeps the whole
// result in memory until it is sent.
type StreamHandler struct {
	Space *models.Space

	// The batch size used when a request does not set one.
	DefaultBatchSize int

	// The upper bound of request batch sizes.
	MaxBatchSize int

	ClientIdleTimeout time.Duration

	// The time allowed to write a message. Zero means no deadline.
	WriteTimeout time.Duration

	conn *websocket.Conn
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
}

func (h *StreamHandler) HandleStream(ctx context.Context, respond ResponseSender, req StreamRequest) error {
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = h.DefaultBatchSize
	}
	if h.MaxBatchSize > 0 {
		batchSize = min(batchSize, h.MaxBatchSize)
	}

	err := h.Space.StreamBox(geom.NewBox(req.Min, req.Max), batchSize, func(points []models.Point) error {
		return respond.Send(StreamResponse{
			RequestID: req.RequestID,
			Points:    points,
		})
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	done := StreamResponse{
		RequestID: req.RequestID,
		Done:      true,
	}
	if err != nil {
		done.Error = err.Error()
		done.ErrorType = errors.Type(err)
	}
	return respond.Send(done)
}

func (h *StreamHandler) HandleDisconnect(err error) {
}

func (h *StreamHandler) Receiver() Receiver {
	return newReceiver(h.conn)
}

func (h *StreamHandler) Sender() Sender {
	send := newSender(h.conn)
	if h.WriteTimeout <= 0 {
		return send
	}

	return func(res StreamResponse) (int, error) {
		h.conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		return send(res)
	}
}

func (h *StreamHandler) Close() {
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

// Server upgrades space stream requests to WebSocket connections. The space id
// is read from the "id" path value.
type Server struct {
	Spaces       *models.SpaceStore
	FeatureFlags featureflag.FeatureFlag

	DefaultBatchSize   int
	MaxBatchSize       int
	ClientIdleTimeout  time.Duration
	WriteTimeout       time.Duration
	LogSummaryInterval time.Duration

	// The context bounding the life of every connection.
	Context context.Context
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.FeatureFlags.IsSet(featureflag.FlagDisableStream) {
		http.Error(w, "streaming is disabled", http.StatusServiceUnavailable)
		return
	}

	space, err := s.Spaces.Get(r.PathValue("id"))
	if err != nil {
		logs.WithTag("space_id", r.PathValue("id")).Debug(err)
		http.Error(w, "space not found", http.StatusNotFound)
		return
	}

	ctx := s.Context
	if ctx == nil {
		ctx = context.Background()
	}

	websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h Handler = &StreamHandler{
				Space:             space,
				DefaultBatchSize:  s.defaultBatchSize(),
				MaxBatchSize:      s.maxBatchSize(),
				ClientIdleTimeout: s.clientIdleTimeout(),
				WriteTimeout:      s.WriteTimeout,
			}
			h = HandlerWithLogs(h, space.ID, s.logSummaryInterval())
			h = HandlerWithMetrics(h)
			defer h.Close()

			Handle(ctx, conn, h)
		},
	}.ServeHTTP(w, r)
}

func (s *Server) defaultBatchSize() int {
	if s.DefaultBatchSize > 0 {
		return s.DefaultBatchSize
	}
	return DefaultBatchSize
}

func (s *Server) maxBatchSize() int {
	if s.MaxBatchSize > 0 {
		return s.MaxBatchSize
	}
	return DefaultMaxBatchSize
}

func (s *Server) clientIdleTimeout() time.Duration {
	if s.ClientIdleTimeout > 0 {
		return s.ClientIdleTimeout
	}
	return time.Minute * 5
}

func (s *Server) logSummaryInterval() time.Duration {
	if s.LogSummaryInterval > 0 {
		return s.LogSummaryInterval
	}
	return time.Minute
}
