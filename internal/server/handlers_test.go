package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"circuitrunners/internal/broadcast"
	"circuitrunners/internal/events"
	"circuitrunners/internal/orchestrator"
	"circuitrunners/internal/rooms"
	"circuitrunners/internal/track"
	"circuitrunners/internal/wshub"
	"circuitrunners/pkg/metrics"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	m := metrics.NewManager()
	hub := wshub.NewHub(wshub.WithMetrics(m))
	bus := events.NewBus()

	srv := &Server{
		Hub:         hub,
		Broadcaster: broadcast.NewBroadcaster(bus, nil),
		Metrics:     m,
		Started:     time.Now(),
		Orch: orchestrator.New(rooms.NewStore(), hub,
			orchestrator.WithCountdown(1, 5*time.Millisecond),
			orchestrator.WithBus(bus),
			orchestrator.WithMetrics(m)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Broadcaster.Run(ctx)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return srv, ts
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, event string, data any) {
	t.Helper()
	msg, err := events.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, msg))
}

// expect reads until an event named want arrives and decodes its payload.
func expect(t *testing.T, ctx context.Context, c *websocket.Conn, want string, v any) {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", want)
		env, err := events.Decode(data)
		require.NoError(t, err)
		if env.Event != want {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Data, v))
		}
		return
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t)

	var body healthResponse
	status := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body.Status)
	assert.GreaterOrEqual(t, body.Uptime, 0.0)
}

func TestHandleRooms_Empty(t *testing.T) {
	_, ts := newTestServer(t)

	var list []orchestrator.RoomSummary
	status := getJSON(t, ts.URL+"/api/rooms", &list)
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/rooms/ABCDEF", nil))
}

func TestHandleRaces_DisabledWithoutDB(t *testing.T) {
	_, ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/races", nil))

	var body map[string]string
	status := getJSON(t, ts.URL+"/api/races/"+uuid.NewString(), &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "race history disabled", body["error"])
}

func TestLogTrack_WarnsOnLongTracks(t *testing.T) {
	loop := func(n int) *track.Track {
		positions := make([]track.Vec3, n)
		for i := range positions {
			positions[i] = track.Vec3{X: float64(i)}
		}
		tr, err := track.New(positions)
		require.NoError(t, err)
		return tr
	}

	core, logs := observer.New(zap.InfoLevel)
	logTrack(zap.New(core), "small.yaml", loop(track.MaxOrderedCheckpoints))
	assert.Equal(t, 1, logs.FilterMessage("track loaded").Len())
	assert.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())

	core, logs = observer.New(zap.InfoLevel)
	logTrack(zap.New(core), "huge.yaml", loop(track.MaxOrderedCheckpoints+1))
	warns := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.EqualValues(t, track.MaxOrderedCheckpoints+1, warns[0].ContextMap()["checkpoints"])
}

func TestWebSocket_RaceFlow(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dial(t, ctx, ts)
	guest := dial(t, ctx, ts)

	send(t, ctx, host, events.JoinGame, events.JoinGamePayload{PlayerName: "Ada"})
	var hostJoined events.JoinedPayload
	expect(t, ctx, host, events.Joined, &hostJoined)
	require.True(t, hostJoined.IsHost)
	require.Len(t, hostJoined.RoomID, rooms.DefaultCodeLength)

	send(t, ctx, guest, events.JoinGame, events.JoinGamePayload{PlayerName: "Bo", RoomID: hostJoined.RoomID})
	var guestJoined events.JoinedPayload
	expect(t, ctx, guest, events.Joined, &guestJoined)
	assert.False(t, guestJoined.IsHost)
	assert.Equal(t, hostJoined.RoomID, guestJoined.RoomID)

	var summary orchestrator.RoomSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/rooms/"+hostJoined.RoomID, &summary))
	assert.Equal(t, 2, summary.PlayerCount)
	assert.Equal(t, "waiting", summary.GameState)

	send(t, ctx, guest, events.StartRace, nil)
	var errMsg events.ErrorPayload
	expect(t, ctx, guest, events.ErrorMessage, &errMsg)
	assert.Equal(t, "Only the host can start the race.", errMsg.Message)

	send(t, ctx, host, events.StartRace, nil)
	var tick events.CountdownPayload
	expect(t, ctx, guest, events.Countdown, &tick)
	assert.Equal(t, 1, tick.Time)
	var start events.StartRacePayload
	expect(t, ctx, guest, events.StartRace, &start)
	assert.Equal(t, hostJoined.RoomID, start.RoomID)

	send(t, ctx, guest, events.PositionUpdate, events.PositionPayload{X: 1, Y: 2, Z: 3})
	var pos events.PlayerPosition
	expect(t, ctx, host, events.PlayerPositions, &pos)
	assert.Equal(t, 3.0, pos.Z)
	assert.NotEmpty(t, pos.ID)

	send(t, ctx, guest, events.CheckpointReached, map[string]int{"checkpointIndex": 4})
	var ranks []events.Rank
	expect(t, ctx, host, events.RankUpdate, &ranks)
	require.Len(t, ranks, 2)
	assert.Equal(t, pos.ID, ranks[0].ID)

	guest.Close(websocket.StatusNormalClosure, "bye")
	var left events.PlayerLeftPayload
	expect(t, ctx, host, events.PlayerLeft, &left)
	assert.Equal(t, "Bo", left.Name)
}

func TestWebSocket_MalformedMessagesIgnored(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, ts)
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"event":"bogus"}`)))
	send(t, ctx, c, events.CheckpointReached, map[string]any{})

	send(t, ctx, c, events.JoinGame, nil)
	var joined events.JoinedPayload
	expect(t, ctx, c, events.Joined, &joined)
	assert.True(t, joined.IsHost)
}

func TestHandleRoomEvents_StreamsLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/rooms/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	res, err := srv.Orch.Join("conn-1", "", "Ada")
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			t.Fatal("stream closed before an event arrived")
		}
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, events.RoomCreated, event)

	var ev events.LifecycleEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, res.RoomID, ev.RoomID)
	assert.Equal(t, 1, ev.Players)
}

func TestHandleMetrics(t *testing.T) {
	srv, ts := newTestServer(t)
	_, err := srv.Orch.Join("conn-1", "", "Ada")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "circuitrunners_server_joins_total 1")
	assert.Contains(t, string(body), "circuitrunners_server_rooms_active 1")
}
