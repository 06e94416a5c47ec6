package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/platform/logger"
	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/roles"
	"github.com/nightcourt/mafiad/internal/room"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/token"
	"github.com/nightcourt/mafiad/internal/types"
)

type rawFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type testServer struct {
	srv      *httptest.Server
	handler  *Handler
	registry *room.Registry
}

func newTestServer(t *testing.T, origins []string) *testServer {
	t.Helper()
	return newTestServerOn(t, store.NewMemoryKV(), "inst-test", origins)
}

// newTestServerOn builds a server instance on a shared KV so tests can run
// two instances against the same stores.
func newTestServerOn(t *testing.T, kv *store.MemoryKV, instanceID string, origins []string) *testServer {
	t.Helper()
	rooms := store.NewRoomStore(kv)
	sessions := store.NewSessionStore(kv)
	b := bus.NewKVBus(kv)
	reg := room.NewRegistry(room.Deps{
		InstanceID: instanceID,
		Rooms:      rooms,
		Sessions:   sessions,
		Dedup:      store.NewDedupStore(kv),
		Leader:     store.NewLeaderStore(kv),
		Bus:        b,
		Log:        logger.Nop(),
		Metrics:    metrics.New(),
	})
	issuer, err := token.NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(Deps{
		Registry:       reg,
		Rooms:          rooms,
		Sessions:       sessions,
		Tokens:         issuer,
		Bus:            b,
		Log:            logger.Nop(),
		Metrics:        metrics.New(),
		AllowedOrigins: origins,
	})
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})
	return &testServer{srv: srv, handler: h, registry: reg}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, commandID string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	if err := conn.WriteJSON(ClientFrame{Event: event, CommandID: commandID, Payload: raw}); err != nil {
		t.Fatal(err)
	}
}

// waitFor reads frames until one with the wanted event arrives.
func waitFor(t *testing.T, conn *websocket.Conn, event string) rawFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var f rawFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
	t.Fatalf("no %s frame before deadline", event)
	return rawFrame{}
}

// readFrame returns the very next frame, whatever it is.
func readFrame(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f rawFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	return f
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	return v
}

// waitForRole reads snapshots until one shows the viewer's dealt role.
func waitForRole(t *testing.T, conn *websocket.Conn) engine.View {
	t.Helper()
	for {
		f := waitFor(t, conn, EvtRoomSnapshot)
		v := decode[ViewPayload](t, f.Payload)
		if v.View.SelfRole != nil {
			return v.View
		}
	}
}

func TestCreateAndJoinOverSocket(t *testing.T) {
	ts := newTestServer(t, nil)

	host := ts.dial(t)
	send(t, host, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	created := decode[BoundPayload](t, waitFor(t, host, EvtRoomSnapshot).Payload)
	if created.Code == "" || created.Token == "" || created.PlayerID == "" {
		t.Fatalf("created = %+v", created)
	}
	if !created.View.IsHost {
		t.Fatal("creator not host in own view")
	}

	guest := ts.dial(t)
	send(t, guest, EvtRoomJoin, "", JoinRoomPayload{RoomCode: created.Code, PlayerName: "Robin"})
	joined := decode[BoundPayload](t, waitFor(t, guest, EvtRoomSnapshot).Payload)
	if joined.RoomID != created.RoomID {
		t.Fatal("joined a different room")
	}
	if len(joined.View.Players) != 2 {
		t.Fatalf("guest sees %d players", len(joined.View.Players))
	}

	// The host sees the fresh snapshot, then the join event.
	view := decode[ViewPayload](t, waitFor(t, host, EvtRoomSnapshot).Payload)
	if len(view.View.Players) != 2 {
		t.Fatalf("host view has %d players", len(view.View.Players))
	}
	ev := decode[DeliveredEvent](t, waitFor(t, host, "player.joined").Payload)
	var body map[string]string
	_ = json.Unmarshal(ev.Payload, &body)
	if body["name"] != "Robin" {
		t.Fatalf("join event body = %v", body)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	send(t, conn, EvtRoomJoin, "", JoinRoomPayload{RoomCode: "ZZZZZZ", PlayerName: "Robin"})
	ge := decode[types.GameError](t, waitFor(t, conn, EvtError).Payload)
	if ge.Code != types.ErrRoomNotFound {
		t.Fatalf("error = %+v", ge)
	}
}

func TestCommandBeforeHandshake(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	send(t, conn, room.CmdSubmitAction, "", room.SubmitActionPayload{Type: "KILL"})
	ge := decode[types.GameError](t, waitFor(t, conn, EvtError).Payload)
	if ge.Code != types.ErrUnauthorized {
		t.Fatalf("error = %+v", ge)
	}
}

func TestResumeEvictsOldSocket(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.dial(t)
	send(t, first, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	created := decode[BoundPayload](t, waitFor(t, first, EvtRoomSnapshot).Payload)

	second := ts.dial(t)
	send(t, second, EvtSessionResume, "", ResumePayload{RoomID: created.RoomID, Token: created.Token})
	resumed := decode[BoundPayload](t, waitFor(t, second, EvtRoomSnapshot).Payload)
	if resumed.PlayerID != created.PlayerID || resumed.SessionID != created.SessionID {
		t.Fatalf("resumed = %+v", resumed)
	}

	// The original socket is told why it lost the session.
	evicted := decode[EvictedPayload](t, waitFor(t, first, EvtSessionEvicted).Payload)
	if evicted.Reason != "duplicate_session" || evicted.Message == "" {
		t.Fatalf("evicted payload = %+v", evicted)
	}
}

func TestEvictionCrossesInstances(t *testing.T) {
	kv := store.NewMemoryKV()
	a := newTestServerOn(t, kv, "inst-a", nil)
	b := newTestServerOn(t, kv, "inst-b", nil)

	first := a.dial(t)
	send(t, first, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	created := decode[BoundPayload](t, waitFor(t, first, EvtRoomSnapshot).Payload)

	// The same session resumes against the other instance; the socket held
	// by the first instance must still be closed out.
	second := b.dial(t)
	send(t, second, EvtSessionResume, "", ResumePayload{RoomID: created.RoomID, Token: created.Token})
	waitFor(t, second, EvtRoomSnapshot)

	evicted := decode[EvictedPayload](t, waitFor(t, first, EvtSessionEvicted).Payload)
	if evicted.Reason != "duplicate_session" {
		t.Fatalf("evicted payload = %+v", evicted)
	}
}

func TestResumeRejectsForeignRoomToken(t *testing.T) {
	ts := newTestServer(t, nil)

	conn := ts.dial(t)
	send(t, conn, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	created := decode[BoundPayload](t, waitFor(t, conn, EvtRoomSnapshot).Payload)

	other := ts.dial(t)
	send(t, other, EvtSessionResume, "", ResumePayload{RoomID: "not-that-room", Token: created.Token})
	ge := decode[types.GameError](t, waitFor(t, other, EvtError).Payload)
	if ge.Code != types.ErrUnauthorized {
		t.Fatalf("error = %+v", ge)
	}
}

func TestHostActionErrorCarriesCommandID(t *testing.T) {
	ts := newTestServer(t, nil)

	conn := ts.dial(t)
	send(t, conn, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	waitFor(t, conn, EvtRoomSnapshot)

	// Starting alone fails the min-player check; the rejection must come
	// back correlated to the frame's command id.
	send(t, conn, EvtHostAction, "cmd-123", HostActionPayload{Action: "start"})
	ge := decode[types.GameError](t, waitFor(t, conn, EvtError).Payload)
	if ge.Code != types.ErrWrongPhase {
		t.Fatalf("error = %+v", ge)
	}
	if ge.Context != "cmd-123" {
		t.Fatalf("error context = %q, want cmd-123", ge.Context)
	}
}

func TestActionAckEchoesSubmission(t *testing.T) {
	ts := newTestServer(t, nil)

	host := ts.dial(t)
	send(t, host, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	created := decode[BoundPayload](t, waitFor(t, host, EvtRoomSnapshot).Payload)

	conns := []*websocket.Conn{host}
	ids := []string{created.PlayerID}
	for i := 2; i <= 5; i++ {
		c := ts.dial(t)
		send(t, c, EvtRoomJoin, "", JoinRoomPayload{RoomCode: created.Code, PlayerName: fmt.Sprintf("Player%d", i)})
		joined := decode[BoundPayload](t, waitFor(t, c, EvtRoomSnapshot).Payload)
		conns = append(conns, c)
		ids = append(ids, joined.PlayerID)
	}

	send(t, host, EvtHostAction, "", HostActionPayload{Action: "start"})

	var mafiaConn *websocket.Conn
	var mafiaID string
	for i, c := range conns {
		v := waitForRole(t, c)
		if v.SelfRole.Alignment == roles.AlignMafia {
			mafiaConn, mafiaID = c, ids[i]
		}
	}
	if mafiaConn == nil {
		t.Fatal("no mafia dealt")
	}

	var target string
	for _, id := range ids {
		if id != mafiaID {
			target = id
			break
		}
	}
	send(t, mafiaConn, room.CmdSubmitAction, "",
		room.SubmitActionPayload{ActionID: "act-9", Type: "KILL", TargetID: target})
	ack := decode[ActionAckPayload](t, waitFor(t, mafiaConn, EvtActionAck).Payload)
	if ack.ActionID != "act-9" || ack.Type != "KILL" || ack.TargetID != target {
		t.Fatalf("action.ack = %+v", ack)
	}
}

func TestDisallowedChatDroppedSilently(t *testing.T) {
	ts := newTestServer(t, nil)

	conn := ts.dial(t)
	send(t, conn, EvtRoomCreate, "", CreateRoomPayload{HostName: "Harper"})
	waitFor(t, conn, EvtRoomSnapshot)

	// The day channel does not exist before the game starts: the first
	// message vanishes without any reply, so the next frame this socket
	// sees is the delivered lobby message.
	send(t, conn, room.CmdSendChat, "",
		room.ChatPayload{MessageID: "m1", Channel: "day", Content: "anyone?"})
	send(t, conn, room.CmdSendChat, "",
		room.ChatPayload{MessageID: "m2", Channel: "lobby", Content: "hello"})

	f := readFrame(t, conn)
	if f.Event != room.EvtChatMessage {
		t.Fatalf("next frame = %s, want the lobby message only", f.Event)
	}
	ev := decode[DeliveredEvent](t, f.Payload)
	var body map[string]any
	_ = json.Unmarshal(ev.Payload, &body)
	if body["content"] != "hello" || body["channel"] != "lobby" {
		t.Fatalf("chat body = %v", body)
	}
}

func TestOriginRestriction(t *testing.T) {
	ts := newTestServer(t, []string{"https://game.example"})
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("disallowed origin upgraded")
	}

	header = http.Header{"Origin": []string{"https://game.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	_ = conn.Close()
}

func TestInvalidNameRejectedAtCreate(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)
	send(t, conn, EvtRoomCreate, "", CreateRoomPayload{HostName: "ab"})
	ge := decode[types.GameError](t, waitFor(t, conn, EvtError).Payload)
	if ge.Code != types.ErrInvalidName {
		t.Fatalf("error = %+v", ge)
	}
}
