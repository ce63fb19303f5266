// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/docintake/backend/internal/journal"
	"github.com/docintake/backend/internal/models"
)

// IntakeHandler handles intake session operations
type IntakeHandler interface {
	HandleOpenSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleGetSessionMsgpack(c echo.Context) error
	HandleAdmitFiles(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleDrag(c echo.Context) error
	HandleGetPreview(c echo.Context) error
	HandleGetEvents(c echo.Context) error
	HandleCloseSession(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ChangeStreamHandler pushes onChange emissions to connected clients
type ChangeStreamHandler interface {
	HandleChangeStream(c echo.Context) error
}

// EventJournal is the read side of the intake journal
// This allows mocking in tests
type EventJournal interface {
	Summary(ctx context.Context, sessionID string) (*journal.Summary, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]models.IntakeEvent, error)
}
