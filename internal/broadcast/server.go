// Live updates server: authenticated WebSocket connections receiving throttled entity events.

package broadcast

import (
	"Lantern/internal/entity"
	"Lantern/internal/errors"
	"Lantern/internal/session"
	"Lantern/pkg/log"
	"Lantern/pkg/validations"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Concurrent session lookups issued by one maintenance pass.
const revalidationLimit = 8

// Options of the live updates Server. Zero durations fall back to the documented defaults.
type Options struct {
	Path                  string
	AuthRequired          bool
	RejectUnauthenticated bool
	Throttle              time.Duration
	SessionRecheck        time.Duration
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	PingInterval          time.Duration
	BookkeepingTTL        time.Duration
	// AllowedOrigins of the upgrade request. Empty keeps gorilla's same-origin check, "*" allows any.
	AllowedOrigins []string
	// UpgradeRate is the sustained handshakes per second allowed from one IP, zero disables the limit.
	UpgradeRate  float64
	UpgradeBurst int
	Clock        clockwork.Clock
}

func (o *Options) defaults() {
	if o.Path == "" {
		o.Path = "/live/updates"
	}
	if o.Throttle <= 0 {
		o.Throttle = 100 * time.Millisecond
	}
	if o.SessionRecheck <= 0 {
		o.SessionRecheck = 60 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 15 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.BookkeepingTTL <= 0 {
		o.BookkeepingTTL = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// SweepResult reports what one maintenance pass did.
type SweepResult struct {
	Idle    int
	Expired int
	Purged  int
}

// Server owns the connection Registry, the Throttler and the session Validator.
type Server struct {
	opts      Options
	validator session.Validator
	registry  *Registry
	throttler *Throttler
	limiter   *UpgradeLimiter
	metrics   *Metrics
	logger    log.Logger
	upgrader  websocket.Upgrader

	// Serializes sequence assignment with fan-out so every connection sees increasing sequences.
	fanout        sync.Mutex
	seq           atomic.Uint64
	lastBroadcast atomic.Int64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer builds a Server. validator may be nil when authentication is not required.
func NewServer(opts Options, validator session.Validator, reg prometheus.Registerer, logger log.Logger) *Server {
	opts.defaults()
	validations.RegisterCustomValidations()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		opts:      opts,
		validator: validator,
		registry:  NewRegistry(),
		limiter:   NewUpgradeLimiter(opts.UpgradeRate, opts.UpgradeBurst),
		logger:    logger.With("component", "live"),
	}
	s.throttler = NewThrottler(opts.Clock, opts.Throttle, s.deliver)
	s.metrics = NewMetrics(reg, s.throttler)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			set[trimmed] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Initialize registers the upgrade route. Must be called before the HTTP server starts listening.
func (s *Server) Initialize(router gin.IRoutes) {
	router.GET(s.opts.Path, s.handleUpgrade)
	s.logger.Info().Str("path", s.opts.Path).Bool("auth_required", s.opts.AuthRequired).Msg("Live updates endpoint registered")
}

// Registry exposes the connection registry, mostly for ops views and tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) authenticate(ctx context.Context, r *http.Request) entity.AuthResult {
	if s.validator == nil {
		return entity.AuthResult{Failure: entity.AuthMissingCookie}
	}
	return s.validator.Authenticate(ctx, r.Header.Get("Cookie"))
}

func (s *Server) handleUpgrade(gctx *gin.Context) {
	logger := s.logger.WithCtx(gctx)
	if !s.limiter.Allow(gctx.ClientIP(), s.opts.Clock.Now()) {
		s.metrics.UpgradesLimited.Inc()
		logger.Warn().Str("client_ip", gctx.ClientIP()).Msg("Live handshake rate limited")
		gctx.AbortWithStatusJSON(http.StatusTooManyRequests, errors.TooManyRequests(""))
		return
	}
	auth := s.authenticate(gctx, gctx.Request)
	if !auth.Authenticated {
		logger.Debug().Str("reason", string(auth.Failure)).Msg("Unauthenticated live handshake")
		if s.opts.RejectUnauthenticated {
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}
	}

	conn, err := s.upgrader.Upgrade(gctx.Writer, gctx.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		logger.Warn().Err(err).Msg("Live connection upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := newConnection(uuid.NewString(), conn, s.opts.Clock.Now())
	if auth.Authenticated {
		c.Authenticated = true
		c.UserID = auth.UserID
		c.SessionID = auth.SessionID
	}
	s.registry.Add(c)
	s.metrics.observe(s.registry.Stats())
	go c.writePump(s.opts.Clock, s.opts.PingInterval)

	logger.Info().Str("connection_id", c.ID).Bool("authenticated", c.Authenticated).Msg("Live connection opened")

	s.reply(c, connectedMessage{
		Type:          MsgConnected,
		ConnectionID:  c.ID,
		Authenticated: c.Authenticated,
		UserID:        c.UserID,
		Timestamp:     millis(s.opts.Clock.Now()),
	})
	if s.opts.AuthRequired && !c.Authenticated {
		s.reply(c, notice(MsgAuthRequired, "a valid session is required to subscribe", s.opts.Clock.Now()))
	}

	// The handler goroutine owns the read side until the peer goes away.
	s.readPump(gctx, c)
}

func (s *Server) readPump(ctx context.Context, c *Connection) {
	defer s.drop(c, "connection closed")

	c.conn.SetPongHandler(func(string) error {
		s.registry.Touch(c.ID, s.opts.Clock.Now())
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debug().Err(err).Str("connection_id", c.ID).Msg("Live connection read failed")
			}
			return
		}
		s.registry.Touch(c.ID, s.opts.Clock.Now())
		s.handleMessage(ctx, c, data)
	}
}

// Protocol errors are answered or ignored, they never close the connection.
func (s *Server) handleMessage(ctx context.Context, c *Connection, data []byte) {
	now := s.opts.Clock.Now()

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.WithCtx(ctx).Warn().Err(err).Str("connection_id", c.ID).Msg("Ignoring malformed live frame")
		return
	}
	if ok, err := govalidator.ValidateStruct(msg); !ok {
		s.reply(c, errorNotice(fmt.Sprintf("unsupported message type %q", msg.Type), errors.FromValidation(err), now))
		return
	}

	switch msg.Type {
	case MsgPing:
		s.reply(c, notice(MsgPong, "", now))

	case MsgSubscribe, MsgUnsubscribe:
		if s.opts.AuthRequired && !c.Authenticated {
			s.reply(c, notice(MsgAuthRequired, "a valid session is required to subscribe", now))
			return
		}
		if len(msg.EntityIDs) == 0 || !validations.ValidEntityIDs(msg.EntityIDs) {
			issue := errors.New("entityIds: must be a non-empty list of entity ids")
			s.reply(c, errorNotice("entityIds must be a non-empty list of entity ids",
				errors.GenerateValidationErrorResponse([]error{issue}), now))
			return
		}

		var ids []string
		reply := MsgSubscribed
		if msg.Type == MsgSubscribe {
			ids, _ = s.registry.Subscribe(c.ID, msg.EntityIDs)
		} else {
			ids, _ = s.registry.Unsubscribe(c.ID, msg.EntityIDs)
			reply = MsgUnsubscribed
		}
		s.metrics.observe(s.registry.Stats())
		s.reply(c, subscriptionMessage{Type: reply, EntityIDs: ids})
	}
}

// Sends a control frame to one connection.
func (s *Server) reply(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Couldn't marshal live control frame")
		return
	}
	if !c.enqueue(data) {
		s.metrics.SendFailures.Inc()
		s.drop(c, "send queue full")
	}
}

// drop removes c from the registry and stops its pumps without a close handshake.
func (s *Server) drop(c *Connection, reason string) {
	if _, ok := s.registry.Remove(c.ID); !ok {
		return
	}
	c.terminate()
	s.metrics.observe(s.registry.Stats())
	s.logger.Info().Str("connection_id", c.ID).Str("reason", reason).Msg("Live connection removed")
}

// closeGracefully removes c from the registry, flushes its queue and sends a close frame.
func (s *Server) closeGracefully(c *Connection, code int, reason string) {
	if _, ok := s.registry.Remove(c.ID); !ok {
		return
	}
	c.closeWith(code, reason)
	s.metrics.observe(s.registry.Stats())
	s.logger.Info().Str("connection_id", c.ID).Str("reason", reason).Msg("Live connection closed")
}

// Broadcast queues a throttled LIVE_UPDATE for the subscribers of entityID.
func (s *Server) Broadcast(entityID string, fields map[string]any) {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.throttler.Submit(entity.BroadcastEvent{Kind: entity.LiveUpdate, EntityID: entityID, Fields: copied})
}

// BroadcastHeartbeat queues a throttled HEARTBEAT_UPDATE, throttled apart from LIVE_UPDATE.
func (s *Server) BroadcastHeartbeat(entityID string, lastSeenAt time.Time) {
	s.throttler.Submit(entity.BroadcastEvent{
		Kind:      entity.HeartbeatUpdate,
		EntityID:  entityID,
		Heartbeat: &entity.Heartbeat{LastSeenAt: lastSeenAt},
	})
}

// BroadcastStageChange sends an unthrottled STAGE_CHANGE to every authenticated connection,
// or to every connection when authentication is not required.
func (s *Server) BroadcastStageChange(t entity.StageTransition) error {
	if ok, err := govalidator.ValidateStruct(t); !ok {
		resp := errors.FromValidation(err)
		resp.Message = "invalid stage change"
		return resp
	}
	s.deliver(entity.BroadcastEvent{Kind: entity.StageChange, EntityID: t.EntityID, Stage: &t})
	return nil
}

// deliver stamps e with the next sequence and fans it out. One failing connection never
// stops delivery to the others.
func (s *Server) deliver(e entity.BroadcastEvent) {
	s.fanout.Lock()
	now := s.opts.Clock.Now()
	e.Sequence = s.seq.Add(1)
	e.Timestamp = now
	data, err := encodeEvent(e)
	if err != nil {
		s.fanout.Unlock()
		s.logger.Error().Err(err).Str("entity_id", e.EntityID).Msg("Couldn't encode live event")
		return
	}

	var targets []*Connection
	switch {
	case e.Kind != entity.StageChange:
		targets = s.registry.Subscribers(e.EntityID, s.opts.AuthRequired)
	case s.opts.AuthRequired:
		targets = s.registry.Authenticated()
	default:
		targets = s.registry.All()
	}

	var failed []*Connection
	sent := 0
	for _, c := range targets {
		if c.enqueue(data) {
			sent++
		} else {
			failed = append(failed, c)
		}
	}
	s.fanout.Unlock()

	s.lastBroadcast.Store(now.UnixNano())
	s.metrics.LastBroadcast.Set(float64(now.UnixNano()) / 1e9)
	s.metrics.EventsSent.Add(float64(sent))
	for _, c := range failed {
		s.metrics.SendFailures.Inc()
		s.drop(c, "send queue full")
	}
}

// Start runs the maintenance task every SweepInterval until Stop or ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := s.opts.Clock.NewTicker(s.opts.SweepInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the maintenance task and waits for it.
func (s *Server) Stop() {
	s.lifecycle.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Sweep closes idle connections, re-checks due sessions and purges throttle bookkeeping.
func (s *Server) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.opts.Clock.Now()

	for _, c := range s.registry.Idle(now, s.opts.IdleTimeout) {
		s.closeGracefully(c, websocket.CloseNormalClosure, "idle timeout")
		res.Idle++
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revalidationLimit)
	for _, c := range s.registry.DueForRevalidation(now, s.opts.SessionRecheck) {
		c := c
		g.Go(func() error {
			if s.revalidate(gctx, c, now) {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Expired = int(expired.Load())

	res.Purged = s.throttler.Purge(now, s.opts.BookkeepingTTL)
	s.limiter.Purge(now, s.opts.BookkeepingTTL)
	s.metrics.observe(s.registry.Stats())
	if res.Idle+res.Expired+res.Purged > 0 {
		s.logger.Debug().Int("idle", res.Idle).Int("expired", res.Expired).Int("purged", res.Purged).Msg("Live maintenance pass")
	}
	return res
}

// revalidate returns true when the connection was closed because its session is gone.
// A store failure keeps the connection, it is retried on the next pass.
func (s *Server) revalidate(ctx context.Context, c *Connection, now time.Time) bool {
	if s.validator == nil {
		return false
	}
	ok, err := s.validator.Revalidate(ctx, c.SessionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("Session re-check failed, keeping connection")
		return false
	}
	if ok {
		s.registry.MarkValidated(c.ID, now)
		return false
	}

	data, _ := json.Marshal(notice(MsgSessionExpired, "session is no longer valid", now))
	return s.expire(c, data)
}

// expire queues the SESSION_EXPIRED notice and closes c. Nothing else is delivered to an
// expired session, so a full queue gives way to the notice.
func (s *Server) expire(c *Connection, msg []byte) bool {
	s.fanout.Lock()
	_, removed := s.registry.Remove(c.ID)
	if removed && !c.enqueue(msg) {
		dropped := c.discardQueued()
		if !c.enqueue(msg) {
			s.logger.Warn().Str("connection_id", c.ID).Msg("Couldn't queue session expiry notice")
		}
		s.logger.Debug().Str("connection_id", c.ID).Int("dropped", dropped).Msg("Dropped queued frames of an expired session")
	}
	s.fanout.Unlock()
	if !removed {
		return false
	}

	c.closeWith(websocket.CloseNormalClosure, "session expired")
	s.metrics.observe(s.registry.Stats())
	s.logger.Info().Str("connection_id", c.ID).Str("reason", "session expired").Msg("Live connection closed")
	return true
}

// Stats is the observability view of the live channel.
func (s *Server) Stats() entity.BroadcastStats {
	rs := s.registry.Stats()
	stats := entity.BroadcastStats{
		Connected:       rs.Connected,
		Authenticated:   rs.Authenticated,
		Subscriptions:   rs.Subscriptions,
		Sequence:        s.seq.Load(),
		TrackedEntities: s.throttler.Tracked(),
	}
	if last := s.lastBroadcast.Load(); last > 0 {
		stats.LastBroadcastAt = time.Unix(0, last)
	}
	return stats
}

// Shutdown stops maintenance, drops pending events and closes every connection with a
// going-away frame, waiting for the write pumps until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()
	s.throttler.Stop()

	conns := s.registry.All()
	for _, c := range conns {
		s.closeGracefully(c, websocket.CloseGoingAway, "server shutting down")
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger.Info().Int("closed", len(conns)).Msg("Live updates server shut down")
	return nil
}
