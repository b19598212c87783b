package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/kenaz/featureflag"
	"github.com/aukilabs/kenaz/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) (*Server, *models.Space) {
	space := models.NewSpace("stream", models.DefaultBalanceConfig())
	for i := 0; i < 10; i++ {
		space.AddPoints(mgl32.Vec3{float32(i), 0, 0})
	}

	var spaces models.SpaceStore
	require.NoError(t, spaces.Add(space))

	return &Server{
		Spaces:            &spaces,
		DefaultBatchSize:  4,
		MaxBatchSize:      3,
		ClientIdleTimeout: time.Second * 5,
		WriteTimeout:      time.Second,
		Context:           context.Background(),
	}, space
}

func sendRequest(t *testing.T, conn *websocket.Conn, req StreamRequest) {
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, string(data)))
}

func readResponses(t *testing.T, conn *websocket.Conn) []StreamResponse {
	var responses []StreamResponse

	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	for {
		var data []byte
		require.NoError(t, websocket.Message.Receive(conn, &data))

		var res StreamResponse
		require.NoError(t, json.Unmarshal(data, &res))
		responses = append(responses, res)

		if res.Done {
			return responses
		}
	}
}

func batchSizes(responses []StreamResponse) []int {
	var sizes []int
	for _, res := range responses {
		if !res.Done {
			sizes = append(sizes, len(res.Points))
		}
	}
	return sizes
}

func streamedIDs(responses []StreamResponse) []uint32 {
	var ids []uint32
	for _, res := range responses {
		for _, p := range res.Points {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func TestStream(t *testing.T) {
	s, space := newTestServer(t)
	url, close := NewTestingEnv(t, s)
	defer close()

	conn := DialTestingEnv(t, url, space.ID)
	defer conn.Close()

	t.Run("points within the box", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 1,
			Min:       mgl32.Vec3{2, -1, -1},
			Max:       mgl32.Vec3{7, 1, 1},
			BatchSize: 2,
		})

		responses := readResponses(t, conn)
		require.Equal(t, []int{2, 2, 2}, batchSizes(responses))
		require.ElementsMatch(t, []uint32{3, 4, 5, 6, 7, 8}, streamedIDs(responses))

		for _, res := range responses {
			require.Equal(t, uint32(1), res.RequestID)
			require.Empty(t, res.Error)
		}

		last := responses[len(responses)-1]
		require.True(t, last.Done)
		require.Empty(t, last.Points)
	})

	t.Run("positions are streamed", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 2,
			Min:       mgl32.Vec3{4.5, -1, -1},
			Max:       mgl32.Vec3{5.5, 1, 1},
		})

		responses := readResponses(t, conn)
		require.Len(t, responses, 2)
		require.Equal(t, []models.Point{{ID: 6, Position: mgl32.Vec3{5, 0, 0}}}, responses[0].Points)
	})

	t.Run("default batch size", func(t *testing.T) {
		other, otherSpace := newTestServer(t)
		other.MaxBatchSize = 10

		otherURL, closeOther := NewTestingEnv(t, other)
		defer closeOther()

		conn := DialTestingEnv(t, otherURL, otherSpace.ID)
		defer conn.Close()

		sendRequest(t, conn, StreamRequest{
			RequestID: 3,
			Min:       mgl32.Vec3{-1, -1, -1},
			Max:       mgl32.Vec3{10, 1, 1},
		})
		require.Equal(t, []int{4, 4, 2}, batchSizes(readResponses(t, conn)))
	})

	t.Run("batch size is clamped", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 4,
			Min:       mgl32.Vec3{-1, -1, -1},
			Max:       mgl32.Vec3{10, 1, 1},
			BatchSize: 100,
		})
		require.Equal(t, []int{3, 3, 3, 1}, batchSizes(readResponses(t, conn)))
	})

	t.Run("empty box", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 5,
			Min:       mgl32.Vec3{20, 20, 20},
			Max:       mgl32.Vec3{30, 30, 30},
		})

		responses := readResponses(t, conn)
		require.Len(t, responses, 1)
		require.True(t, responses[0].Done)
	})

	t.Run("invalid batch size is reported", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 6,
			Max:       mgl32.Vec3{1, 1, 1},
			BatchSize: -1,
		})

		responses := readResponses(t, conn)
		require.Len(t, responses, 1)
		require.True(t, responses[0].Done)
		require.Equal(t, models.ErrTypeInvalidArgument, responses[0].ErrorType)
		require.NotEmpty(t, responses[0].Error)
	})

	t.Run("connection is still usable after an error", func(t *testing.T) {
		sendRequest(t, conn, StreamRequest{
			RequestID: 7,
			Min:       mgl32.Vec3{-1, -1, -1},
			Max:       mgl32.Vec3{0.5, 1, 1},
		})
		require.Equal(t, []uint32{1}, streamedIDs(readResponses(t, conn)))
	})
}

func TestStreamDisconnects(t *testing.T) {
	s, space := newTestServer(t)
	s.ClientIdleTimeout = time.Millisecond * 100

	url, close := NewTestingEnv(t, s)
	defer close()

	t.Run("invalid message", func(t *testing.T) {
		conn := DialTestingEnv(t, url, space.ID)
		defer conn.Close()

		require.NoError(t, websocket.Message.Send(conn, "{"))

		conn.SetReadDeadline(time.Now().Add(time.Second * 5))
		var data []byte
		require.Error(t, websocket.Message.Receive(conn, &data))
	})

	t.Run("idle client", func(t *testing.T) {
		conn := DialTestingEnv(t, url, space.ID)
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(time.Second * 5))
		start := time.Now()

		var data []byte
		require.Error(t, websocket.Message.Receive(conn, &data))
		require.Less(t, time.Since(start), time.Second*5)
	})
}

func TestStreamRejected(t *testing.T) {
	dial := func(url string) error {
		config, err := websocket.NewConfig(url, "http://localhost")
		require.NoError(t, err)

		conn, err := websocket.DialConfig(config)
		if err == nil {
			conn.Close()
		}
		return err
	}

	t.Run("unknown space", func(t *testing.T) {
		s, _ := newTestServer(t)
		url, close := NewTestingEnv(t, s)
		defer close()

		require.Error(t, dial(url+"/spaces/unknown/stream"))
	})

	t.Run("disabled stream", func(t *testing.T) {
		s, space := newTestServer(t)
		s.FeatureFlags = featureflag.New([]string{string(featureflag.FlagDisableStream)})

		url, close := NewTestingEnv(t, s)
		defer close()

		require.Error(t, dial(url+"/spaces/"+space.ID+"/stream"))
	})
}
