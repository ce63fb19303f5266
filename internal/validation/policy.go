// Package validation decides whether a candidate file may be admitted.
package validation

import (
	"fmt"
	"strings"

	"github.com/docintake/backend/internal/models"
)

// Kind identifies why a candidate was rejected.
type Kind string

const (
	KindSize Kind = "size"
	KindType Kind = "type"
)

// DefaultMaxSize is the inclusive upper bound on file size (10 MiB).
const DefaultMaxSize int64 = 10 * 1024 * 1024

// Default allow-lists for MIME types and extensions.
var (
	DefaultMimeTypes  = []string{"image/jpeg", "image/jpg", "image/png", "application/pdf"}
	DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".pdf"}
)

// BatchMode selects how a batch containing invalid candidates is handled.
type BatchMode string

const (
	// BatchPartial validates every candidate independently and admits all
	// valid ones up to the remaining capacity.
	BatchPartial BatchMode = "partial"
	// BatchStopAtFirst stops at the first invalid candidate: earlier valid
	// candidates are kept, nothing after it is admitted.
	BatchStopAtFirst BatchMode = "stop_at_first"
)

// ParseBatchMode parses a mode name, defaulting to BatchPartial for "".
func ParseBatchMode(s string) (BatchMode, error) {
	switch BatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", BatchPartial:
		return BatchPartial, nil
	case BatchStopAtFirst:
		return BatchStopAtFirst, nil
	default:
		return "", fmt.Errorf("unknown batch mode: %q", s)
	}
}

// Error is a typed rejection of a single candidate.
type Error struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	FileName string `json:"fileName,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.FileName == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.FileName)
}

// Policy is a pure predicate over candidate files.
type Policy struct {
	MaxSize    int64
	MimeTypes  map[string]struct{}
	Extensions map[string]struct{}
	Mode       BatchMode
}

// NewPolicy builds a policy. Empty allow-lists and a non-positive size fall
// back to the defaults.
func NewPolicy(maxSize int64, mimeTypes, extensions []string, mode BatchMode) *Policy {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultMimeTypes
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if mode == "" {
		mode = BatchPartial
	}
	return &Policy{
		MaxSize:    maxSize,
		MimeTypes:  toSet(mimeTypes),
		Extensions: toSet(extensions),
		Mode:       mode,
	}
}

// DefaultPolicy returns the 10 MiB JPEG/PNG/PDF policy with partial admission.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultMaxSize, nil, nil, BatchPartial)
}

// Validate returns nil when the candidate is acceptable, or an *Error.
func (p *Policy) Validate(f models.CandidateFile) error {
	if f.Size > p.MaxSize {
		return &Error{
			Kind:     KindSize,
			Message:  fmt.Sprintf("File size must be less than %s", humanSize(p.MaxSize)),
			FileName: f.Name,
		}
	}
	if !p.typeAllowed(f) {
		return &Error{
			Kind:     KindType,
			Message:  "Only JPEG, PNG and PDF files are allowed",
			FileName: f.Name,
		}
	}
	return nil
}

// A declared MIME type is authoritative; the extension only decides when the
// type is unknown.
func (p *Policy) typeAllowed(f models.CandidateFile) bool {
	mime := normalizeMime(f.MimeType)
	if mime != "" && mime != "application/octet-stream" {
		_, ok := p.MimeTypes[mime]
		return ok
	}
	_, ok := p.Extensions[f.Extension()]
	return ok
}

// IsImage reports whether the file should get a preview handle.
func IsImage(f models.CandidateFile) bool {
	mime := normalizeMime(f.MimeType)
	if mime != "" && mime != "application/octet-stream" {
		return strings.HasPrefix(mime, "image/")
	}
	switch f.Extension() {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func humanSize(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
