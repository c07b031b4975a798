package server

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpg/keyserver/internal/oauth"
)

const sessionCookie = "keyserver_session"

// session holds per-browser OAuth state: the CSRF state of an in-flight
// authorization, where to return afterwards, and the verified identity once
// the exchange completes
type session struct {
	state    string
	next     string
	identity *oauth.Identity
}

// sessionStore keeps sessions in process memory; they only need to outlive
// one OAuth round trip
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

// get returns the session bound to the request cookie, creating both when
// absent
func (s *sessionStore) get(c *gin.Context) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, err := c.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions[id]; ok {
			return sess
		}
	}

	id := uuid.NewString()
	sess := &session{}
	s.sessions[id] = sess
	c.SetCookie(sessionCookie, id, 3600, "/", "", false, true)
	return sess
}

// peek returns the existing session without creating one
func (s *sessionStore) peek(c *gin.Context) *session {
	id, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}
