package models

import "time"

// FileInfo represents metadata about a file held in storage.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "stored", "released"
}
