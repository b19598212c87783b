// Package smoketest checks that a Kenaz server answers space requests end to
// end.
package smoketest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	kenazhttp "github.com/aukilabs/kenaz/http"
	"github.com/aukilabs/kenaz/models"
	kwebsocket "github.com/aukilabs/kenaz/websocket"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeSmokeTestFailed = "smoke_test_failed"

	defaultTimeout = time.Second * 10
)

// Request is the body of a smoke test request.
type Request struct {
	// The endpoint of the tested server.
	Endpoint string `json:"endpoint"`

	// The bearer token sent to the tested server.
	Token string `json:"token,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

type Results struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	Endpoint   string
	UserAgent  string
	Transport  http.RoundTripper
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := Run(ctx, opts, req)
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.Warn(errors.New("sending smoke test result failed").
					WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// Run creates a temporary space on the requested endpoint, fills it, queries
// and streams it, then deletes it.
func Run(ctx context.Context, opts Options, req Request) (Results, error) {
	res := Results{
		FromEndpoint: opts.Endpoint,
		ToEndpoint:   req.Endpoint,
		Status:       StatusFailed,
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := client{
		endpoint:  strings.TrimSuffix(req.Endpoint, "/"),
		token:     req.Token,
		userAgent: opts.UserAgent,
		http:      &http.Client{Transport: opts.Transport},
	}

	start := time.Now()
	if err := c.run(ctx); err != nil {
		err = errors.New("smoke test failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("to_endpoint", req.Endpoint).
			Wrap(err)
		res.Error = err.Error()
		return res, err
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(time.Since(start)) / float64(time.Millisecond)
	return res, nil
}

// The corners of a unit cube.
var smokeTestPoints = []mgl32.Vec3{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

type client struct {
	endpoint  string
	token     string
	userAgent string
	http      *http.Client
}

func (c *client) run(ctx context.Context) error {
	var space models.SpaceStats
	err := c.do(ctx, http.MethodPost, "/spaces", kenazhttp.CreateSpaceRequest{
		Name: "smoke-test-" + uuid.NewString(),
	}, &space)
	if err != nil {
		return errors.New("creating space failed").Wrap(err)
	}
	defer func() {
		if err := c.do(context.Background(), http.MethodDelete, "/spaces/"+space.ID, nil, nil); err != nil {
			logs.Warn(errors.New("deleting smoke test space failed").
				WithTag("space_id", space.ID).
				Wrap(err))
		}
	}()

	err = c.do(ctx, http.MethodPost, "/spaces/"+space.ID+"/points", kenazhttp.PointsRequest{
		Points: smokeTestPoints,
	}, nil)
	if err != nil {
		return errors.New("adding points failed").Wrap(err)
	}

	var query kenazhttp.PointsResponse
	err = c.do(ctx, http.MethodPost, "/spaces/"+space.ID+"/query/box", kenazhttp.BoxQuery{
		Min: mgl32.Vec3{-0.5, -0.5, -0.5},
		Max: mgl32.Vec3{1.5, 1.5, 0.5},
	}, &query)
	if err != nil {
		return errors.New("querying box failed").Wrap(err)
	}
	if len(query.Points) != 4 {
		return errors.New("unexpected box query result").
			WithTag("expected", 4).
			WithTag("points", len(query.Points))
	}

	streamed, err := c.stream(ctx, space.ID)
	if err != nil {
		return errors.New("streaming points failed").Wrap(err)
	}
	if streamed != len(smokeTestPoints) {
		return errors.New("unexpected streamed points").
			WithTag("expected", len(smokeTestPoints)).
			WithTag("points", streamed)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body, res any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.New("encoding request failed").Wrap(err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New("sending request failed").Wrap(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New("reading response failed").Wrap(err)
	}

	if resp.StatusCode >= 300 {
		var errRes kenazhttp.ErrorResponse
		json.Unmarshal(data, &errRes)
		return errors.New("unexpected status code").
			WithTag("method", method).
			WithTag("path", path).
			WithTag("status", resp.StatusCode).
			WithTag("error", errRes.Error)
	}

	if res != nil {
		if err := json.Unmarshal(data, res); err != nil {
			return errors.New("decoding response failed").Wrap(err)
		}
	}
	return nil
}

func (c *client) stream(ctx context.Context, spaceID string) (int, error) {
	url := "ws" + strings.TrimPrefix(c.endpoint, "http") + "/spaces/" + spaceID + "/stream"

	config, err := websocket.NewConfig(url, c.endpoint)
	if err != nil {
		return 0, errors.New("creating websocket config failed").Wrap(err)
	}
	config.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		config.Header.Set("Authorization", "Bearer "+c.token)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return 0, errors.New("dialing stream failed").Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(kwebsocket.StreamRequest{
		RequestID: 1,
		Min:       mgl32.Vec3{-1, -1, -1},
		Max:       mgl32.Vec3{2, 2, 2},
		BatchSize: 3,
	})
	if err != nil {
		return 0, errors.New("encoding stream request failed").Wrap(err)
	}
	if err := websocket.Message.Send(conn, string(data)); err != nil {
		return 0, errors.New("sending stream request failed").Wrap(err)
	}

	streamed := 0
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return 0, errors.New("receiving stream response failed").Wrap(err)
		}

		var res kwebsocket.StreamResponse
		if err := json.Unmarshal(msg, &res); err != nil {
			return 0, errors.New("decoding stream response failed").Wrap(err)
		}
		if res.Error != "" {
			return 0, errors.New(res.Error).WithType(res.ErrorType)
		}

		streamed += len(res.Points)
		if res.Done {
			return streamed, nil
		}
	}
}
