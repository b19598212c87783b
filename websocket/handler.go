package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a stream connection handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to stream the points within a box.
	HandleStream(ctx context.Context, respond ResponseSender, req StreamRequest) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming requests.
	Receiver() Receiver

	// Creates a message sender used to send responses.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration
}

// Handle handles the given connection until it is closed, idle or ctx is
// canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The stream handler.
	Handler Handler

	sendChan       chan StreamResponse
	sender         Sender
	receiver       Receiver
	requests       chan StreamRequest
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan StreamResponse, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx, cancel)
	}()

	h.requests = make(chan StreamRequest)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{
		ctx:      ctx,
		sendChan: h.sendChan,
	}

	var disconnectErr error
	for disconnectErr == nil {
		select {
		case <-ctx.Done():
			disconnectErr = ctx.Err()

		case <-idleTimer.C:
			disconnectErr = errors.New("idle connection").WithTag("duration", idleTimeout)

		case req := <-h.requests:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.Handler.HandleStream(ctx, responder, req); err != nil {
				disconnectErr = errors.New("handling stream request failed").
					WithTag("request_id", req.RequestID).
					Wrap(err)
			}

		case err := <-h.disconnectChan:
			disconnectErr = err
		}
	}

	// Pending responses are flushed unless the client is gone.
	if ctx.Err() == nil {
		close(h.sendChan)
	} else {
		cancel()
		h.Conn.Close()
	}
	wg.Wait()

	h.Conn.Close()
	h.Handler.HandleDisconnect(disconnectErr)
}

func (h *handler) startSending(ctx context.Context, cancel func()) {
	for {
		select {
		case <-ctx.Done():
			return

		case res, ok := <-h.sendChan:
			if !ok {
				// Unblocks the receiver.
				cancel()
				h.Conn.Close()
				return
			}

			if _, err := h.sender(res); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				cancel()
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		req, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.requests <- req:
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

type responseSender struct {
	ctx      context.Context
	sendChan chan<- StreamResponse
}

func (r responseSender) Send(res StreamResponse) error {
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case r.sendChan <- res:
		return nil
	}
}
