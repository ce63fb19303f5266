package intake

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/slots"
	"github.com/docintake/backend/internal/testutil"
	"github.com/docintake/backend/internal/validation"
)

type fixture struct {
	ctrl     *Controller
	previews *preview.Manager
	changes  *testutil.ChangeRecorder
	clock    *testutil.FakeClock
	events   []models.IntakeEvent
}

func newFixture(t *testing.T, capacity int, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		previews: preview.NewManager(preview.NewMemoryProvider(), nil),
		changes:  &testutil.ChangeRecorder{},
		clock:    testutil.NewFakeClock(),
	}
	opts := Options{
		ID:       "test-session",
		Capacity: capacity,
		Previews: f.previews,
		OnChange: f.changes.OnChange,
		OnEvent:  func(ev models.IntakeEvent) { f.events = append(f.events, ev) },
		Now:      f.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(ctrl.Teardown)
	f.ctrl = ctrl
	return f
}

func fileNames(files []models.AdmittedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestController_TwoValidFilesFillPairedFlow(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)

	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("A.png", 2), testutil.JPEG("B.jpg", 3)}, SourcePick)
	require.NoError(t, err)

	assert.Equal(t, models.IntakeStateFull, f.ctrl.State())
	require.Equal(t, 1, f.changes.Count())
	assert.Equal(t, []string{"A.png", "B.jpg"}, fileNames(f.changes.Last()))
	assert.Nil(t, f.ctrl.Banner())
}

func TestController_SingleSlotDropsSecondFile(t *testing.T) {
	f := newFixture(t, 1)
	sess := testutil.NewFakeSession(true)

	adm, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PDF("A.pdf", 1), testutil.PDF("B.pdf", 1)}, SourceDrop)
	require.NoError(t, err)

	assert.Equal(t, 1, adm.Dropped)
	assert.Equal(t, models.IntakeStateFull, f.ctrl.State())
	assert.Equal(t, []string{"A.pdf"}, fileNames(f.ctrl.Files()))
	assert.Nil(t, f.ctrl.Banner(), "excess files are dropped without an error")
}

func TestController_UnauthenticatedDrop(t *testing.T) {
	f := newFixture(t, 2, func(o *Options) { o.LoginRedirect = "/login?next=/verify" })
	sess := testutil.NewFakeSession(false)

	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("A.png", 1)}, SourceDrop)

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, models.IntakeStateEmpty, f.ctrl.State())
	assert.Equal(t, 0, f.changes.Count())
	assert.Equal(t, []string{"/login?next=/verify"}, sess.Redirects)
	assert.Nil(t, f.ctrl.Banner(), "authentication failures never show a banner")
	assert.Equal(t, 0, f.previews.Stats().Acquired)
}

func TestController_NilSessionIsUnauthenticated(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.ctrl.AdmitBatch(nil, []models.CandidateFile{testutil.PNG("A.png", 1)}, SourcePick)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestController_OversizedFileRaisesBanner(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)

	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("C.png", 11)}, SourcePick)

	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, validation.KindSize, verr.Kind)
	assert.Contains(t, verr.Message, "10MB")
	assert.Equal(t, models.IntakeStateEmpty, f.ctrl.State())
	assert.Equal(t, 0, f.changes.Count())

	banner := f.ctrl.Banner()
	require.NotNil(t, banner)
	assert.Equal(t, "size", banner.Kind)
	assert.Equal(t, f.clock.Now().Add(DefaultErrorDisplay), banner.ExpiresAt)
}

func TestController_FullSetRaisesCapacityError(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)
	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("A.png", 1), testutil.PDF("B.pdf", 1)}, SourcePick)
	require.NoError(t, err)

	_, err = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("C.png", 1)}, SourceDrop)

	var capErr *CapacityExceededError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, []string{"A.png", "B.pdf"}, fileNames(f.ctrl.Files()))
	assert.Equal(t, 1, f.changes.Count())
	require.NotNil(t, f.ctrl.Banner())
	assert.Equal(t, "capacity", f.ctrl.Banner().Kind)
}

func TestController_PartialBatchAdmitsValidAndShowsError(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)

	adm, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{
		{Name: "a.gif", Size: 10, MimeType: "image/gif"},
		testutil.PDF("B.pdf", 1),
	}, SourcePick)
	require.NoError(t, err)

	assert.Len(t, adm.Admitted, 1)
	assert.Equal(t, models.IntakeStatePartial, f.ctrl.State())
	assert.Equal(t, 1, f.changes.Count())
	require.NotNil(t, f.ctrl.Banner())
	assert.Equal(t, "type", f.ctrl.Banner().Kind)
}

func TestController_RemoveRenumbersAndEmits(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)
	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("A.png", 1), testutil.JPEG("B.jpg", 1)}, SourcePick)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Remove(sess, 0))

	last := f.changes.Last()
	require.Len(t, last, 1)
	assert.Equal(t, "B.jpg", last[0].Name)
	assert.Equal(t, 0, last[0].Slot)
	assert.Equal(t, models.IntakeStatePartial, f.ctrl.State())
	assert.Equal(t, preview.Stats{Acquired: 2, Released: 1, Outstanding: 1}, f.previews.Stats())
}

func TestController_RemoveIsUngatedByDefault(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.ctrl.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("A.png", 1)}, SourcePick)
	require.NoError(t, err)

	anon := testutil.NewFakeSession(false)
	require.NoError(t, f.ctrl.Remove(anon, 0))

	assert.Equal(t, models.IntakeStateEmpty, f.ctrl.State())
	assert.Zero(t, anon.LoginRequests())
}

func TestController_GatedRemoval(t *testing.T) {
	f := newFixture(t, 1, func(o *Options) { o.GateRemoval = true })
	_, err := f.ctrl.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("A.png", 1)}, SourcePick)
	require.NoError(t, err)

	anon := testutil.NewFakeSession(false)
	assert.ErrorIs(t, f.ctrl.Remove(anon, 0), ErrUnauthenticated)
	assert.ErrorIs(t, f.ctrl.Reset(anon), ErrUnauthenticated)
	assert.Equal(t, 2, anon.LoginRequests())
	assert.Equal(t, models.IntakeStateFull, f.ctrl.State())
}

func TestController_RemoveUnknownSlot(t *testing.T) {
	f := newFixture(t, 2)

	err := f.ctrl.Remove(testutil.NewFakeSession(true), 1)
	assert.ErrorIs(t, err, slots.ErrSlotNotFound)
	assert.Equal(t, 0, f.changes.Count())
}

func TestController_BannerLifecycle(t *testing.T) {
	t.Run("expires after the display timeout", func(t *testing.T) {
		f := newFixture(t, 1)
		sess := testutil.NewFakeSession(true)
		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("big.png", 20)}, SourcePick)
		require.NotNil(t, f.ctrl.Banner())

		f.clock.Advance(4 * time.Second)
		assert.NotNil(t, f.ctrl.Banner())

		f.clock.Advance(time.Second)
		assert.Nil(t, f.ctrl.Banner())
	})

	t.Run("a new error replaces the old one and restarts the timer", func(t *testing.T) {
		f := newFixture(t, 1)
		sess := testutil.NewFakeSession(true)
		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("big.png", 20)}, SourcePick)
		f.clock.Advance(4 * time.Second)

		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{{Name: "x.gif", Size: 1, MimeType: "image/gif"}}, SourcePick)
		f.clock.Advance(4 * time.Second)

		banner := f.ctrl.Banner()
		require.NotNil(t, banner)
		assert.Equal(t, "type", banner.Kind)
	})

	t.Run("a new attempt supersedes the shown error", func(t *testing.T) {
		f := newFixture(t, 1)
		sess := testutil.NewFakeSession(true)
		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("big.png", 20)}, SourcePick)

		_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("ok.png", 1)}, SourcePick)
		require.NoError(t, err)
		assert.Nil(t, f.ctrl.Banner())
	})

	t.Run("freeing a slot clears the error", func(t *testing.T) {
		f := newFixture(t, 1)
		sess := testutil.NewFakeSession(true)
		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("a.png", 1)}, SourcePick)
		_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("b.png", 1)}, SourcePick)
		require.NotNil(t, f.ctrl.Banner())

		require.NoError(t, f.ctrl.Remove(sess, 0))
		assert.Nil(t, f.ctrl.Banner())
	})

	t.Run("real timer clears the banner", func(t *testing.T) {
		f := newFixture(t, 1, func(o *Options) {
			o.ErrorDisplay = 20 * time.Millisecond
			o.Now = time.Now
		})
		_, _ = f.ctrl.AdmitBatch(testutil.NewFakeSession(true), []models.CandidateFile{testutil.PNG("big.png", 20)}, SourcePick)
		require.NotNil(t, f.ctrl.Banner())

		assert.Eventually(t, func() bool {
			f.ctrl.mu.Lock()
			defer f.ctrl.mu.Unlock()
			return f.ctrl.banner == nil
		}, time.Second, 5*time.Millisecond)
	})
}

func TestController_DragFlag(t *testing.T) {
	f := newFixture(t, 2)

	f.ctrl.DragEnter()
	assert.True(t, f.ctrl.Snapshot().DragActive)

	f.ctrl.DragLeave()
	assert.False(t, f.ctrl.Snapshot().DragActive)

	f.ctrl.DragEnter()
	_, err := f.ctrl.AdmitBatch(testutil.NewFakeSession(false), []models.CandidateFile{testutil.PNG("a.png", 1)}, SourceDrop)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, f.ctrl.Snapshot().DragActive, "a drop always ends the drag")
}

func TestController_ResetReleasesEverything(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)
	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("a.png", 1), testutil.PNG("b.png", 1)}, SourcePick)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Reset(sess))

	assert.Equal(t, models.IntakeStateEmpty, f.ctrl.State())
	assert.Empty(t, f.changes.Last())
	assert.Equal(t, 0, f.previews.Stats().Outstanding)

	// Resetting an empty set emits nothing.
	require.NoError(t, f.ctrl.Reset(sess))
	assert.Equal(t, 2, f.changes.Count())
}

func TestController_TeardownReleasesHandles(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)
	_, err := f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("a.png", 1), testutil.JPEG("b.jpg", 1)}, SourcePick)
	require.NoError(t, err)

	f.ctrl.Teardown()
	f.ctrl.Teardown()

	stats := f.previews.Stats()
	assert.Equal(t, 2, stats.Acquired)
	assert.Equal(t, 2, stats.Released)
	assert.True(t, f.ctrl.Closed())

	_, err = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("c.png", 1)}, SourcePick)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.ctrl.Remove(sess, 0), ErrClosed)
	assert.ErrorIs(t, f.ctrl.Reset(sess), ErrClosed)
}

func TestController_EventsCarrySessionAndSource(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)

	_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("a.png", 1), testutil.PNG("big.png", 11)}, SourceDrop)

	require.Len(t, f.events, 2)
	assert.Equal(t, models.EventRejected, f.events[0].Kind)
	assert.Equal(t, "big.png", f.events[0].FileName)
	assert.Equal(t, models.EventAdmitted, f.events[1].Kind)
	for _, ev := range f.events {
		assert.Equal(t, "test-session", ev.SessionID)
		assert.Equal(t, "drop", ev.Source)
		assert.Equal(t, f.clock.Now(), ev.At)
	}
}

// Concurrent drops must not race the capacity check.
func TestController_ConcurrentDropsRespectCapacity(t *testing.T) {
	f := newFixture(t, 2)
	sess := testutil.NewFakeSession(true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ctrl.AdmitBatch(sess, []models.CandidateFile{testutil.PNG("a.png", 1)}, SourceDrop)
		}()
	}
	wg.Wait()

	assert.Len(t, f.ctrl.Files(), 2)
	assert.Equal(t, 2, f.previews.Stats().Acquired)

	f.ctrl.Teardown()
	stats := f.previews.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourcePick, src)

	src, err = ParseSource("drop")
	require.NoError(t, err)
	assert.Equal(t, SourceDrop, src)

	_, err = ParseSource("paste")
	assert.Error(t, err)
}
