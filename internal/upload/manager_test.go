package upload

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docintake/backend/internal/intake"
	"github.com/docintake/backend/internal/metrics"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/testutil"
	"github.com/docintake/backend/internal/validation"
)

type memRecorder struct {
	mu     sync.Mutex
	events []models.IntakeEvent
}

func (r *memRecorder) Record(ev models.IntakeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *memRecorder) kinds() []models.IntakeEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.IntakeEventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	collector := metrics.New(prometheus.NewRegistry())
	previews := preview.NewManager(preview.NewMemoryProvider(), collector)
	m := NewManager(Settings{DefaultCapacity: 2}, previews, rec, collector)
	t.Cleanup(m.Shutdown)
	return m, rec
}

func TestManager_OpenAndGet(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.Open(0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 2, sess.Controller.Snapshot().Capacity)

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Count())

	_, err = m.Open(3, "")
	require.NoError(t, err, "capacity bounds are enforced by config, not the registry")

	_, err = m.Open(-1, "")
	assert.Error(t, err)
}

func TestManager_PerSessionBatchMode(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Open(2, validation.BatchStopAtFirst)
	require.NoError(t, err)

	_, err = sess.Controller.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{
		testutil.PNG("big.png", 11),
		testutil.PDF("ok.pdf", 1),
	}, intake.SourcePick)
	require.Error(t, err)
	assert.Empty(t, sess.Controller.Files())
}

func TestManager_SubscribeReceivesChanges(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Open(2, "")
	require.NoError(t, err)

	changes, cancel, err := m.Subscribe(sess.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = sess.Controller.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("a.png", 1)}, intake.SourceDrop)
	require.NoError(t, err)

	select {
	case change := <-changes:
		assert.Equal(t, sess.ID, change.SessionID)
		require.Len(t, change.Files, 1)
		assert.Equal(t, "a.png", change.Files[0].Name)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}

	_, _, err = m.Subscribe("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_CloseReleasesPreviewsAndSubscribers(t *testing.T) {
	m, rec := newTestManager(t)
	sess, err := m.Open(2, "")
	require.NoError(t, err)
	changes, cancel, err := m.Subscribe(sess.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = sess.Controller.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("a.png", 1), testutil.JPEG("b.jpg", 1)}, intake.SourcePick)
	require.NoError(t, err)
	<-changes

	require.NoError(t, m.Close(sess.ID))

	_, open := <-changes
	assert.False(t, open)
	stats := m.Previews().Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
	assert.Equal(t, []models.IntakeEventKind{models.EventAdmitted, models.EventAdmitted, models.EventTeardown}, rec.kinds())

	assert.ErrorIs(t, m.Close(sess.ID), ErrSessionNotFound)
	_, ok := m.Get(sess.ID)
	assert.False(t, ok)
}

func TestManager_CleanupIdle(t *testing.T) {
	m, _ := newTestManager(t)
	stale, err := m.Open(1, "")
	require.NoError(t, err)
	fresh, err := m.Open(1, "")
	require.NoError(t, err)

	stale.mu.Lock()
	stale.lastSeen = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	assert.Equal(t, 1, m.CleanupIdle(30*time.Minute))
	_, ok := m.Get(stale.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)
	assert.True(t, stale.Controller.Closed())
}

func TestManager_Shutdown(t *testing.T) {
	m, _ := newTestManager(t)
	sess, err := m.Open(1, "")
	require.NoError(t, err)
	_, err = sess.Controller.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("a.png", 1)}, intake.SourcePick)
	require.NoError(t, err)

	m.Shutdown()

	assert.Zero(t, m.Count())
	assert.Zero(t, m.Previews().Stats().Outstanding)
}
