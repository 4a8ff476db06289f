package processor

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/context"
)

// ErrSuperseded is returned to a draw whose aggregation was overtaken
// by a newer polygon on the same session.
var ErrSuperseded = errors.New("draw superseded by a newer polygon")

// Session holds one built cube and the interactive state layered on
// top of it. Drawing a new polygon cancels any aggregation still in
// flight and replaces the active polygon and series. A superseded
// draw never publishes its series.
type Session struct {
	ID         string
	Collection string
	Cube       *DataCube
	CreatedAt  time.Time

	mu            sync.Mutex
	lastUsed      time.Time
	generation    int64
	cancelActive  context.CancelFunc
	activePolygon *ZonalPolygon
	activeSeries  []*TimeSeriesPoint
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now().UTC()
	s.mu.Unlock()
}

// LastUsed is the time of the session's most recent lookup.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Draw aggregates the cube over the polygon and, if no newer draw
// arrived meanwhile, installs the result as the session's active
// series.
func (s *Session) Draw(ctx context.Context, poly *ZonalPolygon) ([]*TimeSeriesPoint, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancelActive != nil {
		s.cancelActive()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelActive = cancel
	s.mu.Unlock()

	series, err := Aggregate(ctx, s.Cube, poly)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	s.activePolygon = poly
	s.activeSeries = series
	return series, nil
}

// ActiveSeries returns the series of the most recent completed draw.
func (s *Session) ActiveSeries() ([]*TimeSeriesPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeSeries == nil {
		return nil, false
	}
	return s.activeSeries, true
}

func (s *Session) ActivePolygon() *ZonalPolygon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePolygon
}

// SessionManager tracks live sessions and expires idle ones.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
	if ttl > 0 {
		go m.sweep()
	}
	return m
}

func (m *SessionManager) New(collection string, cube *DataCube) (*Session, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("could not generate session id: %v", err)
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:         hex.EncodeToString(buf),
		Collection: collection,
		Cube:       cube,
		CreatedAt:  now,
		lastUsed:   now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, found := m.sessions[id]
	m.mu.RUnlock()
	if found {
		sess.touch()
	}
	return sess, found
}

func (m *SessionManager) sweep() {
	for range time.Tick(m.ttl / 2) {
		m.expire(time.Now().UTC().Add(-m.ttl))
	}
}

// expire evicts sessions idle since before the cutoff. A session is
// kept alive by any lookup, not just by its creation.
func (m *SessionManager) expire(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}
