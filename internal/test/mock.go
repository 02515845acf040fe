// Mock methods required in Lantern tests are all here.

package test

import (
	"Lantern/internal/entity"
	"Lantern/pkg/middlewares"
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// MockRouter returns a fresh gin engine in test mode carrying the common middlewares.
func MockRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middlewares.CorrelationMiddleware())
	router.Use(middlewares.CORSMiddleware(nil)) // CORS middleware which allows request from all origin
	return router
}

// SessionStore is an in-memory session repository.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]entity.Session
	// Err, when set, is returned by every Lookup.
	Err error
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]entity.Session)}
}

func (s *SessionStore) Lookup(ctx context.Context, sessionID string) (entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return entity.Session{}, s.Err
	}
	return s.sessions[sessionID], nil
}

func (s *SessionStore) Save(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = entity.Session{Valid: true, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

// Revoke deletes a session, as a logout would.
func (s *SessionStore) Revoke(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// SetErr makes every later Lookup fail with err, nil restores normal behaviour.
func (s *SessionStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}
