package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

func HandlerWithLogs(h Handler, spaceID string, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		spaceID:            spaceID,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request
	spaceID         string
	remoteAddr      string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	if req := conn.Request(); req != nil {
		h.originalRequest = req
		h.remoteAddr = req.RemoteAddr
	}

	logs.WithTag("space_id", h.spaceID).
		WithTag("remote_addr", h.remoteAddr).
		WithTag("http_headers", h.httpHeaders()).
		Info("new stream client is connected")
}

func (h *handlerWithLogs) httpHeaders() any {
	headers := struct {
		UserAgent     string `json:"user_agent,omitempty"`
		XForwardedFor string `json:"x_forwarded_for,omitempty"`
	}{}

	if h.originalRequest != nil {
		headers.UserAgent = h.originalRequest.UserAgent()
		headers.XForwardedFor = h.originalRequest.Header.Get("X-Forwarded-For")
	}
	return headers
}

func (h *handlerWithLogs) HandleStream(ctx context.Context, respond ResponseSender, req StreamRequest) error {
	start := time.Now()
	err := h.Handler.HandleStream(ctx, respond, req)

	logs.WithTag("space_id", h.spaceID).
		WithTag("request_id", req.RequestID).
		WithTag("min", req.Min).
		WithTag("max", req.Max).
		WithTag("batch_size", req.BatchSize).
		WithTag("duration", time.Since(start)).
		Debug("stream request handled")
	return err
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag("space_id", h.spaceID).
		WithTag("remote_addr", h.remoteAddr)
	if err != nil {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("stream client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (StreamRequest, int, error) {
		req, n, err := receive()
		if err != nil && !isClosed(err) {
			logs.WithTag("space_id", h.spaceID).
				WithTag("remote_addr", h.remoteAddr).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag("space_id", h.spaceID).
				WithTag("remote_addr", h.remoteAddr).
				WithTag("msg_type", msgTypeStream).
				Debug("message received")
			h.incCounter(msgTypeStream)
		}
		return req, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(res StreamResponse) (int, error) {
		n, err := sender(res)
		if err != nil && !isClosed(err) {
			logs.WithTag("space_id", h.spaceID).
				WithTag("remote_addr", h.remoteAddr).
				WithTag("msg_type", res.msgType()).
				Error(errors.New("sending message failed").Wrap(err))
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.WithTag("space_id", h.spaceID).
		WithTag("remote_addr", h.remoteAddr).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
