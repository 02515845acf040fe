package broadcast

import (
	"Lantern/internal/entity"
	"Lantern/internal/session"
	"Lantern/internal/test"
	"Lantern/pkg/log"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

const liveSecret = "live-test-secret-0123456789"

type liveHarness struct {
	server *Server
	store  *test.SessionStore
	clock  clockwork.FakeClock
	http   *httptest.Server
}

func newLiveHarness(t *testing.T, opts Options) *liveHarness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts.Clock = clock
	store := test.NewSessionStore()
	validator := session.NewValidator(store, session.Options{CookieName: "lantern.sid", Secret: liveSecret, Clock: clock}, log.Nop())

	server := NewServer(opts, validator, prometheus.NewRegistry(), log.Nop())
	router := test.MockRouter()
	server.Initialize(router)
	APIHandlers(router, server)

	h := &liveHarness{server: server, store: store, clock: clock, http: httptest.NewServer(router)}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		h.http.Close()
	})
	return h
}

// login stores a session and returns the Cookie header carrying it.
func (h *liveHarness) login(t *testing.T, sessionID, userID string) string {
	t.Helper()
	require.NoError(t, h.store.Save(ctx, sessionID, userID, h.clock.Now().Add(time.Hour)))
	value, err := session.Sign(sessionID, liveSecret)
	require.NoError(t, err)
	return "lantern.sid=" + value
}

func (h *liveHarness) dial(t *testing.T, cookie string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/live/updates"
	header := http.Header{}
	if cookie != "" {
		header.Set("Cookie", cookie)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestLiveAuthenticatedFlow(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true, Throttle: 10 * time.Millisecond})
	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)

	connected := readFrame(t, conn)
	assert.Equal(t, "CONNECTED", connected["type"])
	assert.Equal(t, true, connected["authenticated"])
	assert.Equal(t, "user-1", connected["userId"])
	assert.NotEmpty(t, connected["connectionId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "entityIds": []string{"bot-1", "bot-1", "bot-2"}}))
	subscribed := readFrame(t, conn)
	assert.Equal(t, "SUBSCRIBED", subscribed["type"])
	assert.Equal(t, []any{"bot-1", "bot-2"}, subscribed["entityIds"])

	h.server.Broadcast("bot-1", map[string]any{"equity": 1200.5})
	h.clock.Advance(10 * time.Millisecond)
	updateFrame := readFrame(t, conn)
	assert.Equal(t, "LIVE_UPDATE", updateFrame["type"])
	assert.Equal(t, "bot-1", updateFrame["entityId"])
	assert.Equal(t, 1200.5, updateFrame["equity"])
	assert.EqualValues(t, 1, updateFrame["sequence"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "UNSUBSCRIBE", "entityIds": []string{"bot-1"}}))
	assert.Equal(t, "UNSUBSCRIBED", readFrame(t, conn)["type"])

	stats := h.server.Stats()
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, 1, stats.Subscriptions)
}

func TestLiveUnauthenticatedConnectionGetsControlMessagesOnly(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true})
	conn, _, err := h.dial(t, "lantern.sid=s:forged.c2lnbmF0dXJl")
	require.NoError(t, err)

	connected := readFrame(t, conn)
	assert.Equal(t, "CONNECTED", connected["type"])
	assert.Equal(t, false, connected["authenticated"])
	assert.Equal(t, "AUTH_REQUIRED", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "entityIds": []string{"bot-1"}}))
	assert.Equal(t, "AUTH_REQUIRED", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "PING"}))
	assert.Equal(t, "PONG", readFrame(t, conn)["type"])
	assert.Zero(t, h.server.Stats().Subscriptions)
}

func TestLiveRejectUnauthenticated(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true, RejectUnauthenticated: true})
	_, resp, err := h.dial(t, "")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)
	assert.Equal(t, "CONNECTED", readFrame(t, conn)["type"])
}

func TestLiveHandshakesAreRateLimitedPerIP(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true, UpgradeRate: 1, UpgradeBurst: 1})
	cookie := h.login(t, "sess-1", "user-1")

	conn, _, err := h.dial(t, cookie)
	require.NoError(t, err)
	assert.Equal(t, "CONNECTED", readFrame(t, conn)["type"])

	_, resp, err := h.dial(t, cookie)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.server.metrics.UpgradesLimited))

	h.clock.Advance(time.Second)
	_, _, err = h.dial(t, cookie)
	require.NoError(t, err)
}

func TestLiveProtocolErrorsKeepConnection(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true})
	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)
	readFrame(t, conn)

	// Malformed JSON is ignored silently
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SHOUT"}))
	errFrame := readFrame(t, conn)
	assert.Equal(t, "ERROR", errFrame["type"])
	assert.Contains(t, errFrame["message"], "SHOUT")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "entityIds": []string{"has space"}}))
	assert.Equal(t, "ERROR", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE"}))
	assert.Equal(t, "ERROR", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "PING"}))
	assert.Equal(t, "PONG", readFrame(t, conn)["type"])
}

func TestLiveSessionExpiredBeforeClose(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true, SessionRecheck: time.Minute})
	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)
	readFrame(t, conn)

	h.store.Revoke("sess-1")
	h.clock.Advance(61 * time.Second)
	res := h.server.Sweep(ctx)
	assert.Equal(t, 1, res.Expired)

	assert.Equal(t, "SESSION_EXPIRED", readFrame(t, conn)["type"])
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, h.server.Stats().Connected)
}

func TestLiveStoreOutageKeepsConnection(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true, SessionRecheck: time.Minute})
	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)
	readFrame(t, conn)

	h.store.SetErr(errors.New("store down"))
	h.clock.Advance(61 * time.Second)
	res := h.server.Sweep(ctx)
	assert.Zero(t, res.Expired)
	assert.Equal(t, 1, h.server.Stats().Connected)
}

func TestLiveIdleConnectionIsClosed(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: false, IdleTimeout: time.Minute, PingInterval: 10 * time.Minute})
	conn, _, err := h.dial(t, "")
	require.NoError(t, err)
	readFrame(t, conn)

	h.clock.Advance(2 * time.Minute)
	res := h.server.Sweep(ctx)
	assert.Equal(t, 1, res.Idle)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestLiveShutdownSendsGoingAway(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: false})
	conn, _, err := h.dial(t, "")
	require.NoError(t, err)
	readFrame(t, conn)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(shutdownCtx))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestLiveOpsEndpoint(t *testing.T) {
	h := newLiveHarness(t, Options{AuthRequired: true})
	conn, _, err := h.dial(t, h.login(t, "sess-1", "user-1"))
	require.NoError(t, err)
	readFrame(t, conn)
	require.NoError(t, h.server.BroadcastStageChange(entity.StageTransition{
		EntityID: "bot-1", FromState: "paper", ToState: "live", ChangeType: "PROMOTION",
	}))

	resp, err := http.Get(h.http.URL + "/api/ops/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats entity.BroadcastStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Connected)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, uint64(1), stats.Sequence)
	assert.NotEmpty(t, stats.LastBroadcastAgo)
}
