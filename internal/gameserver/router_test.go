package gameserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/chessd/internal/config"
	"github.com/cory-johannsen/chessd/internal/game/match"
	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/game/session"
	"github.com/cory-johannsen/chessd/internal/protocol"
	"github.com/cory-johannsen/chessd/internal/testutil"
	"github.com/cory-johannsen/chessd/internal/transport"
)

// testConn implements transport.ManagedConn on top of a recorder sink.
type testConn struct {
	id string
	*testutil.RecorderSink
}

func (c *testConn) ID() string { return c.id }
func (c *testConn) Close()     {}

func newTestConn(id string) *testConn {
	return &testConn{id: id, RecorderSink: testutil.NewRecorderSink()}
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		GracePeriod:     time.Minute,
		Retention:       time.Minute,
		ChatLogCapacity: 100,
		ChatMaxLength:   500,
		PendingBuffer:   32,
	}
}

func newRouter(t *testing.T, cfg config.GameConfig) (*Router, *match.Matchmaker) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	params := session.Params{
		ChatLogCapacity: cfg.ChatLogCapacity,
		ChatMaxLength:   cfg.ChatMaxLength,
		PendingBuffer:   cfg.PendingBuffer,
	}
	mm := match.New(rules.NewStandard(), params, logger)
	r := NewRouter(cfg, transport.NewRegistry(logger), mm, logger)
	t.Cleanup(r.Stop)
	return r, mm
}

func encode(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	payload, err := protocol.Encode(msgType, data)
	require.NoError(t, err)
	return payload
}

func join(t *testing.T, r *Router, conn *testConn, name string) {
	t.Helper()
	r.HandleConnect(conn)
	r.HandleMessage(conn, encode(t, protocol.TypePlayerJoin, protocol.JoinRequest{PlayerName: name}))
}

// pairedGame seats two players into one active game and clears their sinks.
func pairedGame(t *testing.T, r *Router) (*testConn, *testConn, string) {
	t.Helper()
	white := newTestConn("conn-white")
	black := newTestConn("conn-black")
	join(t, r, white, "alice")
	join(t, r, black, "bob")

	var state protocol.GameState
	white.Last(t, protocol.TypeGameState, &state)
	require.Equal(t, "active", state.Status)

	white.Reset()
	black.Reset()
	return white, black, state.GameID
}

func lastError(t *testing.T, conn *testConn) protocol.ErrorMessage {
	t.Helper()
	var em protocol.ErrorMessage
	conn.Last(t, protocol.TypeError, &em)
	return em
}

func TestJoinGreetsAndPairs(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())

	white := newTestConn("conn-white")
	join(t, r, white, "alice")

	var greeting protocol.ConnectionStatus
	white.Last(t, protocol.TypeConnection, &greeting)
	assert.Equal(t, "waiting", greeting.Status)
	assert.Equal(t, "white", greeting.Color)
	assert.False(t, greeting.Resumed)
	assert.NotEmpty(t, greeting.GameID)

	black := newTestConn("conn-black")
	join(t, r, black, "bob")

	var blackGreeting protocol.ConnectionStatus
	black.Last(t, protocol.TypeConnection, &blackGreeting)
	assert.Equal(t, greeting.GameID, blackGreeting.GameID)
	assert.Equal(t, "black", blackGreeting.Color)

	var wState, bState protocol.GameState
	white.Last(t, protocol.TypeGameState, &wState)
	black.Last(t, protocol.TypeGameState, &bState)
	assert.Equal(t, "active", wState.Status)
	assert.Equal(t, wState.GameID, bState.GameID)
	assert.Equal(t, "white", wState.CurrentPlayer)
}

func TestJoinGreetingPrecedesStateBroadcast(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())

	white := newTestConn("conn-white")
	join(t, r, white, "alice")
	assert.Equal(t, []string{protocol.TypeConnection}, white.Types(t))

	black := newTestConn("conn-black")
	join(t, r, black, "bob")

	// Activation reaches both seats only after each was greeted, so the
	// first message any client ever receives is its connection status.
	assert.Equal(t, []string{protocol.TypeConnection, protocol.TypeGameState}, white.Types(t))
	assert.Equal(t, []string{protocol.TypeConnection, protocol.TypeGameState}, black.Types(t))
}

func TestResumeGreetingPrecedesBacklog(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleDisconnect(black)
	r.HandleMessage(white, encode(t, protocol.TypeChat,
		protocol.ChatRequest{Message: "come back", GameID: gameID}))

	rejoined := newTestConn("conn-black-2")
	r.HandleConnect(rejoined)
	r.HandleMessage(rejoined, encode(t, protocol.TypePlayerJoin,
		protocol.JoinRequest{PlayerName: "bob", GameID: gameID}))

	// Greeting, then the backlog (paused snapshot and queued chat), then
	// the fresh active snapshot.
	assert.Equal(t, []string{
		protocol.TypeConnection,
		protocol.TypeGameState,
		protocol.TypeChat,
		protocol.TypeGameState,
	}, rejoined.Types(t))
}

func TestJoinEmptyNameRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, encode(t, protocol.TypePlayerJoin, protocol.JoinRequest{}))
	assert.Equal(t, protocol.CodeInvalidRequest, lastError(t, conn).Type)
}

func TestJoinInvalidColorRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, encode(t, protocol.TypePlayerJoin,
		protocol.JoinRequest{PlayerName: "alice", PreferredColor: "green"}))
	assert.Equal(t, protocol.CodeInvalidRequest, lastError(t, conn).Type)
}

func TestDoubleJoinRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	join(t, r, conn, "alice")
	r.HandleMessage(conn, encode(t, protocol.TypePlayerJoin, protocol.JoinRequest{PlayerName: "alice"}))
	assert.Equal(t, protocol.CodeAlreadyInGame, lastError(t, conn).Type)
}

func TestMalformedPayloadReported(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, []byte("{not json"))
	assert.Equal(t, protocol.CodeMalformedMessage, lastError(t, conn).Type)
}

func TestUnknownTypeReported(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, []byte(`{"type":"teleport","data":{}}`))
	assert.Equal(t, protocol.CodeUnknownType, lastError(t, conn).Type)
}

func TestRejectedMessageLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	cfg := testGameConfig()
	params := session.Params{
		ChatLogCapacity: cfg.ChatLogCapacity,
		ChatMaxLength:   cfg.ChatMaxLength,
		PendingBuffer:   cfg.PendingBuffer,
	}
	mm := match.New(rules.NewStandard(), params, logger)
	r := NewRouter(cfg, transport.NewRegistry(logger), mm, logger)
	t.Cleanup(r.Stop)

	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, []byte(`{"type":"teleport","data":{}}`))

	assert.Equal(t, protocol.CodeUnknownType, lastError(t, conn).Type)
	entries := logs.FilterMessage("message rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, protocol.CodeUnknownType, entries[0].ContextMap()["code"])
}

func TestMoveRoundTrip(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e2", To: "e4", GameID: gameID}))

	var resp protocol.MoveResponse
	white.Last(t, protocol.TypeMoveResponse, &resp)
	assert.True(t, resp.Accepted)

	var wState, bState protocol.GameState
	white.Last(t, protocol.TypeGameState, &wState)
	black.Last(t, protocol.TypeGameState, &bState)
	assert.Equal(t, uint64(1), wState.MoveSeq)
	assert.Equal(t, "black", wState.CurrentPlayer)
	assert.Equal(t, wState.Board, bState.Board)
}

func TestMoveWithoutGameRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e2", To: "e4"}))
	assert.Equal(t, protocol.CodeNoSuchGame, lastError(t, conn).Type)
}

func TestMoveWrongGameIDRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, _, _ := pairedGame(t, r)
	r.HandleMessage(white, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e2", To: "e4", GameID: "some-other-game"}))
	assert.Equal(t, protocol.CodeNoSuchGame, lastError(t, white).Type)
}

func TestMoveOutOfTurnRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	_, black, gameID := pairedGame(t, r)
	r.HandleMessage(black, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e7", To: "e5", GameID: gameID}))
	assert.Equal(t, protocol.CodeNotYourTurn, lastError(t, black).Type)
}

func TestIllegalMoveRejectedPrivately(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e2", To: "e5", GameID: gameID}))

	var resp protocol.MoveResponse
	white.Last(t, protocol.TypeMoveResponse, &resp)
	assert.False(t, resp.Accepted)
	assert.Zero(t, black.Len(), "the opponent never learns of a rejected move")
}

func TestChatRelayedToBoth(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypeChat,
		protocol.ChatRequest{Message: "good luck", GameID: gameID}))

	var wc, bc protocol.ChatBroadcast
	white.Last(t, protocol.TypeChat, &wc)
	black.Last(t, protocol.TypeChat, &bc)
	assert.Equal(t, "alice", wc.From)
	assert.Equal(t, "good luck", bc.Message)
}

func TestResignEndsGame(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypeResign, protocol.ResignRequest{GameID: gameID}))

	var state protocol.GameState
	black.Last(t, protocol.TypeGameState, &state)
	assert.Equal(t, "ended", state.Status)
	assert.Equal(t, "resignation", state.EndReason)
	assert.Equal(t, "black", state.Winner)

	// Further moves are refused.
	r.HandleMessage(black, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e7", To: "e5", GameID: gameID}))
	assert.Equal(t, protocol.CodeGameNotActive, lastError(t, black).Type)
}

func TestDrawOfferAndAccept(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypeDrawOffer, protocol.DrawOfferRequest{GameID: gameID}))

	var offer protocol.DrawOffered
	black.Last(t, protocol.TypeDrawOffered, &offer)
	assert.Equal(t, "alice", offer.From)

	r.HandleMessage(black, encode(t, protocol.TypeDrawResponse,
		protocol.DrawResponseRequest{GameID: gameID, Accept: true}))

	var state protocol.GameState
	white.Last(t, protocol.TypeGameState, &state)
	assert.Equal(t, "ended", state.Status)
	assert.Equal(t, "draw_agreed", state.EndReason)
	assert.Empty(t, state.Winner)
}

func TestDisconnectPausesAndResumeRestores(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	white, black, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e2", To: "e4", GameID: gameID}))
	r.HandleDisconnect(black)

	var paused protocol.GameState
	white.Last(t, protocol.TypeGameState, &paused)
	assert.Equal(t, "paused", paused.Status)
	assert.Equal(t, 1, r.Tickets().TicketCount())

	// Chat while the opponent is away is queued for them.
	r.HandleMessage(white, encode(t, protocol.TypeChat,
		protocol.ChatRequest{Message: "come back", GameID: gameID}))

	rejoined := newTestConn("conn-black-2")
	r.HandleConnect(rejoined)
	r.HandleMessage(rejoined, encode(t, protocol.TypePlayerJoin,
		protocol.JoinRequest{PlayerName: "bob", GameID: gameID}))

	var greeting protocol.ConnectionStatus
	rejoined.Last(t, protocol.TypeConnection, &greeting)
	assert.True(t, greeting.Resumed)
	assert.Equal(t, gameID, greeting.GameID)
	assert.Equal(t, "black", greeting.Color)

	assert.Equal(t, 1, rejoined.Count(t, protocol.TypeChat), "missed chat is replayed")

	var state protocol.GameState
	rejoined.Last(t, protocol.TypeGameState, &state)
	assert.Equal(t, "active", state.Status)
	assert.Equal(t, uint64(1), state.MoveSeq)
	assert.Zero(t, r.Tickets().TicketCount())

	// The resumed seat can play.
	r.HandleMessage(rejoined, encode(t, protocol.TypePlayerMove,
		protocol.MoveRequest{From: "e7", To: "e5", GameID: gameID}))
	var resp protocol.MoveResponse
	rejoined.Last(t, protocol.TypeMoveResponse, &resp)
	assert.True(t, resp.Accepted)
}

func TestResumeByIdentityWithoutGameID(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	_, black, gameID := pairedGame(t, r)
	r.HandleDisconnect(black)

	rejoined := newTestConn("conn-black-2")
	r.HandleConnect(rejoined)
	r.HandleMessage(rejoined, encode(t, protocol.TypePlayerJoin,
		protocol.JoinRequest{PlayerName: "bob"}))

	var greeting protocol.ConnectionStatus
	rejoined.Last(t, protocol.TypeConnection, &greeting)
	assert.True(t, greeting.Resumed)
	assert.Equal(t, gameID, greeting.GameID)
}

func TestResumeUnknownGameIDRejected(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	r.HandleConnect(conn)
	r.HandleMessage(conn, encode(t, protocol.TypePlayerJoin,
		protocol.JoinRequest{PlayerName: "alice", GameID: "no-such-game"}))
	assert.Equal(t, protocol.CodeNoSuchGame, lastError(t, conn).Type)
}

func TestGraceExpiryEndsGame(t *testing.T) {
	cfg := testGameConfig()
	cfg.GracePeriod = 20 * time.Millisecond
	r, _ := newRouter(t, cfg)
	white, black, _ := pairedGame(t, r)

	r.HandleDisconnect(black)

	require.Eventually(t, func() bool {
		var state protocol.GameState
		for _, payload := range white.Payloads() {
			var env protocol.Envelope
			if err := json.Unmarshal(payload, &env); err != nil || env.Type != protocol.TypeGameState {
				continue
			}
			if err := json.Unmarshal(env.Data, &state); err != nil {
				continue
			}
		}
		return state.Status == "ended" && state.EndReason == "opponent_disconnected_timeout"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, r.Tickets().TicketCount())
}

func TestEndedSessionReapedAfterRetention(t *testing.T) {
	cfg := testGameConfig()
	cfg.Retention = 20 * time.Millisecond
	r, mm := newRouter(t, cfg)
	white, _, gameID := pairedGame(t, r)

	r.HandleMessage(white, encode(t, protocol.TypeResign, protocol.ResignRequest{GameID: gameID}))

	require.Eventually(t, func() bool {
		_, ok := mm.Lookup(gameID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateDisconnectIgnored(t *testing.T) {
	r, _ := newRouter(t, testGameConfig())
	_, black, _ := pairedGame(t, r)

	r.HandleDisconnect(black)
	r.HandleDisconnect(black)
	assert.Equal(t, 1, r.Tickets().TicketCount())
}

func TestWaitingPlayerDisconnectLeavesNoTicket(t *testing.T) {
	r, mm := newRouter(t, testGameConfig())
	conn := newTestConn("c1")
	join(t, r, conn, "alice")

	r.HandleDisconnect(conn)
	assert.Zero(t, r.Tickets().TicketCount())
	assert.Zero(t, mm.SessionCount())
}
