package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv creates a testing environment to unit test stream servers. It
// returns the base WebSocket URL of the server and a function that releases
// the environment.
func NewTestingEnv(t *testing.T, s *Server) (string, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	mux := http.NewServeMux()
	mux.Handle("/spaces/{id}/stream", s)
	server := httptest.NewServer(mux)

	return strings.ReplaceAll(server.URL, "http://", "ws://"), func() {
		server.Close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	}
}

// DialTestingEnv connects to the stream of the given space.
func DialTestingEnv(t *testing.T, url, spaceID string) *websocket.Conn {
	config, err := websocket.NewConfig(url+"/spaces/"+spaceID+"/stream", "http://localhost")
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}
	config.Header.Set("User-Agent", "ted")
	config.Header.Set("X-Forwarded-For", "192.0.0.0")

	conn, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}
	return conn
}
