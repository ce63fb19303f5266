// Package intake implements the file intake state machine: pick and drop
// admission behind an authentication gate, removal, a transient error banner
// and preview-handle teardown.
package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/slots"
	"github.com/docintake/backend/internal/validation"
)

// DefaultErrorDisplay is how long a banner error stays visible.
const DefaultErrorDisplay = 5 * time.Second

// Source identifies the input event that produced a batch.
type Source string

const (
	SourcePick Source = "pick"
	SourceDrop Source = "drop"
)

// ParseSource maps a request value to a Source, defaulting to pick.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case "", SourcePick:
		return SourcePick, nil
	case SourceDrop:
		return SourceDrop, nil
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

// Session is the authentication collaborator consulted before mutations.
type Session interface {
	IsAuthenticated() bool
	RequestLogin(redirectTarget string)
}

// Options configures a Controller.
type Options struct {
	ID       string
	Capacity int
	Policy   *validation.Policy
	Previews *preview.Manager

	// OnChange receives the full admitted list after every successful admit,
	// removal or reset. It runs while the controller is locked and must not
	// call back into it.
	OnChange func(files []models.AdmittedFile)
	// OnEvent observes admissions, rejections and lifecycle steps. Same
	// locking rule as OnChange.
	OnEvent func(ev models.IntakeEvent)

	LoginRedirect string
	// GateRemoval makes Remove and Reset require authentication.
	GateRemoval  bool
	ErrorDisplay time.Duration
	Now          func() time.Time
}

// Controller serializes every event for one intake widget.
type Controller struct {
	mu sync.Mutex

	id            string
	slots         *slots.Allocator
	onChange      func([]models.AdmittedFile)
	onEvent       func(models.IntakeEvent)
	loginRedirect string
	gateRemoval   bool
	display       time.Duration
	now           func() time.Time
	logger        *log.Logger

	dragActive bool
	closed     bool

	banner    *models.BannerError
	bannerGen uint64
	timer     *time.Timer
}

// New creates a controller in the Empty state.
func New(opts Options) (*Controller, error) {
	if opts.Previews == nil {
		opts.Previews = preview.NewManager(preview.NewMemoryProvider(), nil)
	}
	alloc, err := slots.New(opts.Capacity, opts.Policy, opts.Previews)
	if err != nil {
		return nil, err
	}
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = DefaultErrorDisplay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoginRedirect == "" {
		opts.LoginRedirect = "/login"
	}
	return &Controller{
		id:            opts.ID,
		slots:         alloc,
		onChange:      opts.OnChange,
		onEvent:       opts.OnEvent,
		loginRedirect: opts.LoginRedirect,
		gateRemoval:   opts.GateRemoval,
		display:       opts.ErrorDisplay,
		now:           opts.Now,
		logger:        logging.New("intake"),
	}, nil
}

// ID returns the identifier the controller was created with.
func (c *Controller) ID() string { return c.id }

// AdmitBatch is the single entry point for pick and drop events.
//
// Unauthenticated callers get one login redirect and ErrUnauthenticated with
// no state change. Otherwise the batch goes to the allocator; any admitted
// file triggers one OnChange. Rejections and capacity errors raise the
// banner, and are returned when nothing was admitted.
func (c *Controller) AdmitBatch(sess Session, files []models.CandidateFile, src Source) (slots.Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return slots.Admission{}, ErrClosed
	}
	if src == SourceDrop {
		c.dragActive = false
	}

	if !c.authorized(sess) {
		c.emit(models.IntakeEvent{Kind: models.EventUnauthenticated, Source: string(src), Slot: -1})
		return slots.Admission{}, ErrUnauthenticated
	}

	if len(files) == 0 {
		return slots.Admission{}, nil
	}
	c.clearBanner()

	adm, err := c.slots.Admit(files)
	if err != nil {
		var capErr *CapacityExceededError
		if errors.As(err, &capErr) {
			c.raise("capacity", capErr.Error())
			c.emit(models.IntakeEvent{Kind: models.EventCapacity, Source: string(src), Slot: -1, Detail: capErr.Error()})
		}
		return adm, err
	}

	for _, rej := range adm.Rejected {
		c.emit(models.IntakeEvent{
			Kind:     models.EventRejected,
			Source:   string(src),
			FileName: rej.FileName,
			Slot:     -1,
			Detail:   string(rej.Kind),
		})
	}
	if len(adm.Rejected) > 0 {
		first := adm.Rejected[0]
		c.raise(string(first.Kind), first.Message)
	}

	if len(adm.Admitted) > 0 {
		for _, f := range adm.Admitted {
			c.emit(models.IntakeEvent{Kind: models.EventAdmitted, Source: string(src), FileName: f.Name, Slot: f.Slot})
		}
		c.notify()
		c.logger.Debugf("%s: admitted %d via %s (dropped %d)", c.id, len(adm.Admitted), src, adm.Dropped)
		return adm, nil
	}

	if len(adm.Rejected) > 0 {
		return adm, adm.Rejected[0]
	}
	return adm, nil
}

// Remove frees slot i. It is ungated unless GateRemoval is set, and counts as
// a corrective action that clears the banner.
func (c *Controller) Remove(sess Session, i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.gateRemoval && !c.authorized(sess) {
		c.emit(models.IntakeEvent{Kind: models.EventUnauthenticated, Slot: i})
		return ErrUnauthenticated
	}

	removed, err := c.slots.Remove(i)
	if err != nil {
		return err
	}

	c.clearBanner()
	c.emit(models.IntakeEvent{Kind: models.EventRemoved, FileName: removed.Name, Slot: i})
	c.notify()
	return nil
}

// Reset releases every admitted file so a new batch can replace them.
func (c *Controller) Reset(sess Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.gateRemoval && !c.authorized(sess) {
		c.emit(models.IntakeEvent{Kind: models.EventUnauthenticated, Slot: -1})
		return ErrUnauthenticated
	}

	n := c.slots.ReleaseAll()
	c.clearBanner()
	if n == 0 {
		return nil
	}
	c.emit(models.IntakeEvent{Kind: models.EventReset, Slot: -1, Detail: fmt.Sprintf("%d files", n)})
	c.notify()
	return nil
}

// DragEnter marks a drag hovering over the drop zone.
func (c *Controller) DragEnter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.dragActive = true
	}
}

// DragLeave clears the drag flag.
func (c *Controller) DragLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragActive = false
}

// Teardown releases every outstanding preview handle and stops the banner
// timer. The controller is unusable afterwards. Calling it twice is safe.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.dragActive = false

	n := c.slots.ReleaseAll()
	c.clearBanner()
	c.emit(models.IntakeEvent{Kind: models.EventTeardown, Slot: -1, Detail: fmt.Sprintf("%d files", n)})
	c.logger.Debugf("%s: torn down, released %d files", c.id, n)
}

// Closed reports whether Teardown has run.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State derives Empty, Partial or Full from the slot count.
func (c *Controller) State() models.IntakeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() models.IntakeState {
	switch n := c.slots.Len(); {
	case n == 0:
		return models.IntakeStateEmpty
	case n >= c.slots.Capacity():
		return models.IntakeStateFull
	default:
		return models.IntakeStatePartial
	}
}

// Files returns the admitted files in slot order.
func (c *Controller) Files() []models.AdmittedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.Files()
}

// File returns the admitted file at slot i.
func (c *Controller) File(i int) (models.AdmittedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.Get(i)
}

// Banner returns the error currently shown, or nil.
func (c *Controller) Banner() *models.BannerError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBanner()
}

// Snapshot returns a consistent view of the controller.
func (c *Controller) Snapshot() models.IntakeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.IntakeSnapshot{
		ID:         c.id,
		State:      c.state(),
		Capacity:   c.slots.Capacity(),
		Files:      c.slots.Files(),
		DragActive: c.dragActive,
		Error:      c.currentBanner(),
		Closed:     c.closed,
	}
}

func (c *Controller) authorized(sess Session) bool {
	if sess != nil && sess.IsAuthenticated() {
		return true
	}
	if sess != nil {
		sess.RequestLogin(c.loginRedirect)
	}
	return false
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.slots.Files())
	}
}

func (c *Controller) emit(ev models.IntakeEvent) {
	if c.onEvent == nil {
		return
	}
	ev.SessionID = c.id
	ev.At = c.now()
	c.onEvent(ev)
}

// raise replaces the banner and restarts its timer.
func (c *Controller) raise(kind, message string) {
	now := c.now()
	c.bannerGen++
	gen := c.bannerGen
	c.banner = &models.BannerError{
		Kind:      kind,
		Message:   message,
		RaisedAt:  now,
		ExpiresAt: now.Add(c.display),
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.display, func() { c.expire(gen) })
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.bannerGen {
		c.banner = nil
		c.timer = nil
	}
}

func (c *Controller) clearBanner() {
	c.bannerGen++
	c.banner = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) currentBanner() *models.BannerError {
	if c.banner == nil {
		return nil
	}
	if !c.now().Before(c.banner.ExpiresAt) {
		c.clearBanner()
		return nil
	}
	b := *c.banner
	return &b
}
