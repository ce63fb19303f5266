// Package slots keeps the bounded, ordered collection of admitted files.
package slots

import (
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/preview"
	"github.com/docintake/backend/internal/validation"
)

// ErrSlotNotFound is returned when removing a slot index that is not occupied.
var ErrSlotNotFound = errors.New("slot not found")

// CapacityExceededError is returned when a batch arrives while every slot is
// taken. Nothing from the batch is admitted.
type CapacityExceededError struct {
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	if e.Capacity == 1 {
		return "Only 1 file can be uploaded"
	}
	return fmt.Sprintf("Maximum of %d files allowed", e.Capacity)
}

// Admission is the outcome of one Admit call.
type Admission struct {
	Admitted []models.AdmittedFile
	Rejected []*validation.Error
	// Dropped counts candidates never examined because the slots filled up.
	Dropped int
	// PreviewFailures counts valid images skipped because no preview could
	// be acquired.
	PreviewFailures int
}

// Allocator is not safe for concurrent use; the intake controller serializes
// access.
type Allocator struct {
	capacity int
	policy   *validation.Policy
	previews *preview.Manager
	logger   *log.Logger
	files    []models.AdmittedFile
}

// New creates an allocator with a fixed capacity.
func New(capacity int, policy *validation.Policy, previews *preview.Manager) (*Allocator, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if policy == nil {
		policy = validation.DefaultPolicy()
	}
	if previews == nil {
		return nil, errors.New("preview manager is required")
	}
	return &Allocator{
		capacity: capacity,
		policy:   policy,
		previews: previews,
		logger:   logging.New("slots"),
		files:    make([]models.AdmittedFile, 0, capacity),
	}, nil
}

// Capacity returns N.
func (a *Allocator) Capacity() int { return a.capacity }

// Len returns the number of occupied slots.
func (a *Allocator) Len() int { return len(a.files) }

// Remaining returns the number of free slots.
func (a *Allocator) Remaining() int { return a.capacity - len(a.files) }

// Files returns a copy of the admitted files in slot order.
func (a *Allocator) Files() []models.AdmittedFile {
	out := make([]models.AdmittedFile, len(a.files))
	copy(out, a.files)
	return out
}

// Get returns the file at slot i.
func (a *Allocator) Get(i int) (models.AdmittedFile, error) {
	if i < 0 || i >= len(a.files) {
		return models.AdmittedFile{}, ErrSlotNotFound
	}
	return a.files[i], nil
}

// Admit validates candidates in arrival order and fills free slots with the
// valid ones. A full slot set rejects the whole batch.
func (a *Allocator) Admit(candidates []models.CandidateFile) (Admission, error) {
	var adm Admission
	if len(candidates) == 0 {
		return adm, nil
	}

	remaining := a.Remaining()
	if remaining <= 0 {
		return adm, &CapacityExceededError{Capacity: a.capacity}
	}

	for i, c := range candidates {
		if len(adm.Admitted) >= remaining {
			adm.Dropped = len(candidates) - i
			break
		}

		if err := a.policy.Validate(c); err != nil {
			var verr *validation.Error
			if !errors.As(err, &verr) {
				verr = &validation.Error{Kind: validation.KindType, Message: err.Error(), FileName: c.Name}
			}
			adm.Rejected = append(adm.Rejected, verr)
			if a.policy.Mode == validation.BatchStopAtFirst {
				break
			}
			continue
		}

		h, err := a.previews.Acquire(c)
		if err != nil {
			a.logger.Warnf("skipping %s: %v", c.Name, err)
			adm.PreviewFailures++
			continue
		}

		f := models.AdmittedFile{CandidateFile: c, Slot: len(a.files), Preview: h}
		a.files = append(a.files, f)
		adm.Admitted = append(adm.Admitted, f)
	}

	return adm, nil
}

// Remove releases the preview at slot i, deletes the entry and renumbers the
// remaining entries 0..k-1 in their original order.
func (a *Allocator) Remove(i int) (models.AdmittedFile, error) {
	if i < 0 || i >= len(a.files) {
		return models.AdmittedFile{}, ErrSlotNotFound
	}

	removed := a.files[i]
	a.previews.Release(removed.Preview)

	a.files = append(a.files[:i], a.files[i+1:]...)
	for j := range a.files {
		a.files[j].Slot = j
	}
	return removed, nil
}

// ReleaseAll releases every preview handle and empties the slot set. It
// returns the number of files dropped.
func (a *Allocator) ReleaseAll() int {
	n := len(a.files)
	for _, f := range a.files {
		a.previews.Release(f.Preview)
	}
	a.files = a.files[:0]
	return n
}
