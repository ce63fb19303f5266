package upload

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/docintake/backend/internal/intake"
	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/metrics"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/validation"
)

// ErrSessionNotFound is returned for unknown or closed session IDs.
var ErrSessionNotFound = errors.New("intake session not found")

// Recorder receives every intake event, typically the journal.
type Recorder interface {
	Record(ev models.IntakeEvent)
}

// Settings holds the defaults applied to new sessions.
type Settings struct {
	DefaultCapacity int
	Policy          *validation.Policy
	LoginRedirect   string
	GateRemoval     bool
	ErrorDisplay    time.Duration
}

// Change is published to subscribers after every onChange emission.
type Change struct {
	SessionID string                `json:"sessionId"`
	Files     []models.AdmittedFile `json:"files"`
	At        time.Time             `json:"at"`
}

// Session is one hosted intake widget.
type Session struct {
	ID         string
	Controller *intake.Controller
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
	subs     map[string]chan Change
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) publish(files []models.AdmittedFile) {
	change := Change{SessionID: s.ID, Files: files, At: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
			// Slow subscriber; it will see the next change.
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// Manager hosts intake sessions keyed by ID.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	settings Settings
	previews *preview.Manager
	recorder Recorder
	metrics  *metrics.Collector
	logger   *log.Logger
}

// NewManager creates a session registry. recorder and collector may be nil.
func NewManager(settings Settings, previews *preview.Manager, recorder Recorder, collector *metrics.Collector) *Manager {
	if settings.DefaultCapacity <= 0 {
		settings.DefaultCapacity = 1
	}
	if settings.Policy == nil {
		settings.Policy = validation.DefaultPolicy()
	}
	if previews == nil {
		previews = preview.NewManager(preview.NewMemoryProvider(), collector)
	}
	return &Manager{
		sessions: make(map[string]*Session),
		settings: settings,
		previews: previews,
		recorder: recorder,
		metrics:  collector,
		logger:   logging.New("upload"),
	}
}

// Previews returns the shared preview manager.
func (m *Manager) Previews() *preview.Manager {
	return m.previews
}

// Open starts a new session. A zero capacity uses the default and an empty
// mode keeps the policy's mode.
func (m *Manager) Open(capacity int, mode validation.BatchMode) (*Session, error) {
	if capacity == 0 {
		capacity = m.settings.DefaultCapacity
	}
	policy := m.settings.Policy
	if mode != "" && mode != policy.Mode {
		p := *policy
		p.Mode = mode
		policy = &p
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		lastSeen:  now,
		subs:      make(map[string]chan Change),
	}

	ctrl, err := intake.New(intake.Options{
		ID:            sess.ID,
		Capacity:      capacity,
		Policy:        policy,
		Previews:      m.previews,
		OnChange:      sess.publish,
		OnEvent:       m.observe,
		LoginRedirect: m.settings.LoginRedirect,
		GateRemoval:   m.settings.GateRemoval,
		ErrorDisplay:  m.settings.ErrorDisplay,
	})
	if err != nil {
		return nil, err
	}
	sess.Controller = ctrl

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.logger.Infof("[Intake %s] opened with capacity %d", sess.ID[:8], capacity)
	return sess, nil
}

// Get retrieves a session by ID and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

// Close tears the session down, releasing its preview handles.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.teardown(sess)
	return nil
}

// Subscribe registers for change notifications. The returned cancel func
// must be called when the subscriber goes away.
func (m *Manager) Subscribe(id string) (<-chan Change, func(), error) {
	sess, ok := m.Get(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	subID := uuid.New().String()
	ch := make(chan Change, 8)

	sess.mu.Lock()
	sess.subs[subID] = ch
	sess.mu.Unlock()

	cancel := func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if c, ok := sess.subs[subID]; ok {
			close(c)
			delete(sess.subs, subID)
		}
	}
	return ch, cancel, nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupIdle tears down sessions unused for longer than maxAge and returns
// how many were removed.
func (m *Manager) CleanupIdle(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Session
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			stale = append(stale, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range stale {
		m.teardown(sess)
	}
	if len(stale) > 0 {
		m.logger.Infof("reaped %d idle intake sessions", len(stale))
	}
	return len(stale)
}

// Shutdown tears down every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range all {
		m.teardown(sess)
	}
}

func (m *Manager) teardown(sess *Session) {
	sess.Controller.Teardown()
	sess.closeSubscribers()
	m.metrics.SessionClosed()
	m.logger.Infof("[Intake %s] closed", sess.ID[:8])
}

func (m *Manager) observe(ev models.IntakeEvent) {
	switch ev.Kind {
	case models.EventAdmitted:
		m.metrics.Admitted(ev.Source, 1)
	case models.EventRejected:
		m.metrics.Rejected(ev.Detail)
	case models.EventCapacity:
		m.metrics.Rejected("capacity")
	case models.EventRemoved:
		m.metrics.Removed()
	}
	if m.recorder != nil {
		m.recorder.Record(ev)
	}
}
