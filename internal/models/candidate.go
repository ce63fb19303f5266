package models

import (
	"path/filepath"
	"strings"
	"time"
)

// CandidateFile is a file supplied by a pick or drop event, before validation.
type CandidateFile struct {
	Name         string    `json:"name" msgpack:"name"`
	Size         int64     `json:"size" msgpack:"size"`
	MimeType     string    `json:"mimeType" msgpack:"mimeType"`
	LastModified time.Time `json:"lastModified" msgpack:"lastModified"`
	Data         []byte    `json:"-" msgpack:"-"`
}

// Extension returns the lower-cased file extension including the dot.
func (f CandidateFile) Extension() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// PreviewHandle is an opaque revocable reference to the bytes of an image
// file, used for thumbnail rendering. It must be released exactly once.
type PreviewHandle struct {
	ID  string `json:"id" msgpack:"id"`
	Ref string `json:"ref" msgpack:"ref"`
}

// AdmittedFile is a candidate that passed validation and occupies a slot.
type AdmittedFile struct {
	CandidateFile
	Slot    int            `json:"slot" msgpack:"slot"`
	Preview *PreviewHandle `json:"preview,omitempty" msgpack:"preview,omitempty"`
}
