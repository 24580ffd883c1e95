package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/forkful/liveclass/internal/config"
	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/protocol"
	"github.com/forkful/liveclass/internal/relay"
)

func participantID(s string) domain.ParticipantID { return domain.ParticipantID(s) }

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "release",
		ReadLimit:    32768,
		PingPeriod:   50 * time.Millisecond,
		WriteTimeout: time.Second,
		SendBuffer:   32,
	}
}

func startRelayServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := relay.NewRegistry(cfg.MaxRoomSize, nil)
	ctl := NewWSController(relay.NewRelay(reg, nil), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, room string) (self string, occupants []string) {
	t.Helper()
	if err := conn.WriteJSON(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: room}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	msg := readEvent(t, conn)
	if msg["type"] != protocol.EventRoomOccupants {
		t.Fatalf("expected room-occupants, got %v", msg)
	}
	self, _ = msg["self"].(string)
	if raw, ok := msg["participants"].([]any); ok {
		for _, v := range raw {
			occupants = append(occupants, v.(string))
		}
	}
	return self, occupants
}

func TestOfferReachesTargetOnly(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	x := dialWS(t, srv)
	xID, occupants := joinRoom(t, x, "abc")
	if len(occupants) != 0 {
		t.Fatalf("X joined an empty room, got occupants %v", occupants)
	}

	y := dialWS(t, srv)
	_, occupants = joinRoom(t, y, "abc")
	if len(occupants) != 1 || occupants[0] != xID {
		t.Fatalf("Y should see [X], got %v", occupants)
	}

	if err := y.WriteJSON(protocol.SDPEnvelope{
		Type:   protocol.EventSendOffer,
		Target: participantID(xID),
		SDP:    "v=0 offer",
	}); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	msg := readEvent(t, x)
	if msg["type"] != protocol.EventIncomingOffer {
		t.Fatalf("X expected incoming-offer, got %v", msg)
	}
	if msg["source"] == xID || msg["source"] == "" {
		t.Fatalf("offer source should be Y's id, got %v", msg["source"])
	}
	if _, hasTarget := msg["target"]; hasTarget {
		t.Fatal("forwarded offer must not carry the target field")
	}

	// The offer must never echo back to Y.
	expectSilence(t, y)
}

func TestOfferDoesNotCrossRooms(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	aID, _ := joinRoom(t, a, "r1")

	b := dialWS(t, srv)
	joinRoom(t, b, "r2")

	if err := b.WriteJSON(protocol.SDPEnvelope{
		Type:   protocol.EventSendOffer,
		Target: participantID(aID),
		SDP:    "v=0",
	}); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	expectSilence(t, a)
}

func TestDisconnectBroadcastsParticipantLeft(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	joinRoom(t, a, "r1")
	b := dialWS(t, srv)
	bID, _ := joinRoom(t, b, "r1")
	c := dialWS(t, srv)
	joinRoom(t, c, "r1")

	b.Close()

	for _, conn := range []*websocket.Conn{a, c} {
		msg := readEvent(t, conn)
		if msg["type"] != protocol.EventParticipantLeft {
			t.Fatalf("expected participant-left, got %v", msg)
		}
		if msg["participant"] != bID {
			t.Fatalf("expected %s to leave, got %v", bID, msg["participant"])
		}
	}
}

func TestMoveBroadcastsParticipantLeftToOldRoom(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	joinRoom(t, a, "r1")
	b := dialWS(t, srv)
	bID, _ := joinRoom(t, b, "r1")

	// B moves to another room; A must learn that B is gone.
	self, occupants := joinRoom(t, b, "r2")
	if self != bID || len(occupants) != 0 {
		t.Fatalf("move reply: self=%q occupants=%v", self, occupants)
	}

	msg := readEvent(t, a)
	if msg["type"] != protocol.EventParticipantLeft {
		t.Fatalf("expected participant-left after move, got %v", msg)
	}
	if msg["participant"] != bID {
		t.Fatalf("expected %s to leave r1, got %v", bID, msg["participant"])
	}
}

func TestRefusedMoveDoesNotEvict(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRoomSize = 1
	srv := startRelayServer(t, cfg)

	a := dialWS(t, srv)
	joinRoom(t, a, "old")
	b := dialWS(t, srv)
	joinRoom(t, b, "full")

	if err := a.WriteJSON(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: "full"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	msg := readEvent(t, a)
	if msg["type"] != protocol.EventError || msg["error"] != protocol.ReasonRoomFull {
		t.Fatalf("expected room_full error, got %v", msg)
	}

	// A is still reachable in its old room: a rejoin reports the same room
	// with no occupants lost.
	self, occupants := joinRoom(t, a, "old")
	if self == "" || len(occupants) != 0 {
		t.Fatalf("rejoin after refused move: self=%q occupants=%v", self, occupants)
	}
}

func TestJoinChurnIsRateLimited(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	for i := 0; i < 8; i++ {
		joinRoom(t, a, "abc")
	}

	if err := a.WriteJSON(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: "abc"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	msg := readEvent(t, a)
	if msg["type"] != protocol.EventError || msg["error"] != protocol.ReasonRateLimited {
		t.Fatalf("expected rate_limited error, got %v", msg)
	}
}

func TestRoomCapRefusesJoin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRoomSize = 1
	srv := startRelayServer(t, cfg)

	a := dialWS(t, srv)
	joinRoom(t, a, "tiny")

	b := dialWS(t, srv)
	if err := b.WriteJSON(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: "tiny"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	msg := readEvent(t, b)
	if msg["type"] != protocol.EventError || msg["error"] != protocol.ReasonRoomFull {
		t.Fatalf("expected room_full error, got %v", msg)
	}
}

func TestBadRoomIDRejected(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	if err := a.WriteJSON(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: ""}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	msg := readEvent(t, a)
	if msg["type"] != protocol.EventError || msg["error"] != protocol.ReasonBadRoom {
		t.Fatalf("expected bad_room error, got %v", msg)
	}
}

func TestPingPong(t *testing.T) {
	srv := startRelayServer(t, testConfig())

	a := dialWS(t, srv)
	if err := a.WriteJSON(protocol.Head{Type: protocol.EventPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	msg := readEvent(t, a)
	if msg["type"] != protocol.EventPong {
		t.Fatalf("expected pong, got %v", msg)
	}
}
