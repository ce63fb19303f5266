// fakes.go - Session, clock and file fixtures shared by intake tests
package testutil

import (
	"sync"
	"time"

	"github.com/docintake/backend/internal/models"
)

// FakeSession is an authentication collaborator that records login requests.
type FakeSession struct {
	mu            sync.Mutex
	Authenticated bool
	Redirects     []string
}

// NewFakeSession returns a session with the given authentication state.
func NewFakeSession(authenticated bool) *FakeSession {
	return &FakeSession{Authenticated: authenticated}
}

func (s *FakeSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Authenticated
}

func (s *FakeSession) RequestLogin(redirectTarget string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Redirects = append(s.Redirects, redirectTarget)
}

// LoginRequests returns how many times RequestLogin was called.
func (s *FakeSession) LoginRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Redirects)
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a clock at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ChangeRecorder captures onChange emissions.
type ChangeRecorder struct {
	mu    sync.Mutex
	Calls [][]models.AdmittedFile
}

// OnChange appends a copy of files.
func (r *ChangeRecorder) OnChange(files []models.AdmittedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]models.AdmittedFile, len(files))
	copy(cp, files)
	r.Calls = append(r.Calls, cp)
}

// Count returns the number of emissions so far.
func (r *ChangeRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Last returns the most recent emission.
func (r *ChangeRecorder) Last() []models.AdmittedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return nil
	}
	return r.Calls[len(r.Calls)-1]
}

const mib = 1024 * 1024

// PNG returns a PNG candidate of sizeMB megabytes.
func PNG(name string, sizeMB int64) models.CandidateFile {
	return models.CandidateFile{Name: name, Size: sizeMB * mib, MimeType: "image/png", Data: []byte(name)}
}

// JPEG returns a JPEG candidate of sizeMB megabytes.
func JPEG(name string, sizeMB int64) models.CandidateFile {
	return models.CandidateFile{Name: name, Size: sizeMB * mib, MimeType: "image/jpeg", Data: []byte(name)}
}

// PDF returns a PDF candidate of sizeMB megabytes.
func PDF(name string, sizeMB int64) models.CandidateFile {
	return models.CandidateFile{Name: name, Size: sizeMB * mib, MimeType: "application/pdf", Data: []byte(name)}
}
