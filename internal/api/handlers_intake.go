// handlers_intake.go - Intake session handlers
package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/docintake/backend/internal/intake"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/upload"
	"github.com/docintake/backend/internal/validation"
)

// IntakeHandlerImpl implements the IntakeHandler interface
type IntakeHandlerImpl struct {
	manager *upload.Manager
	journal EventJournal
	auth    Authenticator
}

// NewIntakeHandler creates a new intake handler instance. journal may be nil.
func NewIntakeHandler(manager *upload.Manager, journal EventJournal, auth Authenticator) IntakeHandler {
	return &IntakeHandlerImpl{
		manager: manager,
		journal: journal,
		auth:    auth,
	}
}

// HandleOpenSession creates an intake session with capacity 1 or 2
func (h *IntakeHandlerImpl) HandleOpenSession(c echo.Context) error {
	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	mode, err := req.validate()
	if err != nil {
		return err
	}

	sess, err := h.manager.Open(req.Capacity, mode)
	if err != nil {
		return NewInternalError("failed to open intake session", err)
	}

	return c.JSON(http.StatusCreated, sess.Controller.Snapshot())
}

// HandleGetSession returns the current snapshot of a session
func (h *IntakeHandlerImpl) HandleGetSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Controller.Snapshot())
}

// HandleGetSessionMsgpack returns the snapshot encoded as msgpack
func (h *IntakeHandlerImpl) HandleGetSessionMsgpack(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(sess.Controller.Snapshot())
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleAdmitFiles accepts a pick or drop batch as multipart/form-data
func (h *IntakeHandlerImpl) HandleAdmitFiles(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	source, err := intake.ParseSource(c.QueryParam("source"))
	if err != nil {
		return NewValidationError("source")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form", err)
	}

	candidates, err := readCandidates(form)
	if err != nil {
		return NewBadRequestError("failed to read uploaded files", err)
	}

	reqSess := h.auth.SessionFor(c)
	adm, err := sess.Controller.AdmitBatch(reqSess, candidates, source)
	if err != nil {
		return intakeError(err, c, reqSess)
	}

	return c.JSON(http.StatusOK, admitResponse{
		Snapshot: sess.Controller.Snapshot(),
		Admitted: len(adm.Admitted),
		Dropped:  adm.Dropped,
		Rejected: adm.Rejected,
	})
}

// HandleRemoveFile frees one slot
func (h *IntakeHandlerImpl) HandleRemoveFile(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return NewValidationError("slot")
	}

	reqSess := h.auth.SessionFor(c)
	if err := sess.Controller.Remove(reqSess, slot); err != nil {
		return intakeError(err, c, reqSess)
	}

	return c.JSON(http.StatusOK, sess.Controller.Snapshot())
}

// HandleReset empties every slot
func (h *IntakeHandlerImpl) HandleReset(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	reqSess := h.auth.SessionFor(c)
	if err := sess.Controller.Reset(reqSess); err != nil {
		return intakeError(err, c, reqSess)
	}

	return c.JSON(http.StatusOK, sess.Controller.Snapshot())
}

// HandleDrag toggles the drag-active flag
func (h *IntakeHandlerImpl) HandleDrag(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	var req dragRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if req.Active {
		sess.Controller.DragEnter()
	} else {
		sess.Controller.DragLeave()
	}

	return c.JSON(http.StatusOK, sess.Controller.Snapshot())
}

// HandleGetPreview streams the preview bytes of an image slot
func (h *IntakeHandlerImpl) HandleGetPreview(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		return NewValidationError("slot")
	}

	file, err := sess.Controller.File(slot)
	if err != nil {
		return intakeError(err, c, nil)
	}
	if file.Preview == nil {
		return NewNotFoundError("preview", c.Param("slot"))
	}

	rc, err := h.manager.Previews().Open(file.Preview)
	if err != nil {
		return intakeError(err, c, nil)
	}
	defer rc.Close()

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Stream(http.StatusOK, mimeType, rc)
}

// HandleGetEvents returns the journal summary and recent events of a session
func (h *IntakeHandlerImpl) HandleGetEvents(c echo.Context) error {
	if h.journal == nil {
		return NewServiceUnavailableError("event journal is disabled")
	}

	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	ctx := c.Request().Context()
	summary, err := h.journal.Summary(ctx, id)
	if err != nil {
		return NewInternalError("failed to read journal", err)
	}
	events, err := h.journal.Recent(ctx, id, limit)
	if err != nil {
		return NewInternalError("failed to read journal", err)
	}

	return c.JSON(http.StatusOK, eventsResponse{Summary: summary, Events: events})
}

// HandleCloseSession tears a session down
func (h *IntakeHandlerImpl) HandleCloseSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Close(id); err != nil {
		if errors.Is(err, upload.ErrSessionNotFound) {
			return NewNotFoundError("intake session", id)
		}
		return NewInternalError("failed to close intake session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *IntakeHandlerImpl) session(c echo.Context) (*upload.Session, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	sess, ok := h.manager.Get(id)
	if !ok {
		return nil, NewNotFoundError("intake session", id)
	}
	return sess, nil
}

// Request/Response types

type openSessionRequest struct {
	Capacity  int    `json:"capacity"`
	BatchMode string `json:"batchMode"`
}

func (r *openSessionRequest) validate() (validation.BatchMode, error) {
	if r.Capacity < 0 || r.Capacity > 2 {
		return "", NewBadRequestError("capacity must be 1 or 2", nil)
	}
	if r.BatchMode == "" {
		return "", nil
	}
	mode, err := validation.ParseBatchMode(r.BatchMode)
	if err != nil {
		return "", NewValidationError("batchMode")
	}
	return mode, nil
}

type dragRequest struct {
	Active bool `json:"active"`
}

type admitResponse struct {
	Snapshot models.IntakeSnapshot `json:"snapshot"`
	Admitted int                   `json:"admitted"`
	Dropped  int                   `json:"dropped"`
	Rejected []*validation.Error   `json:"rejected,omitempty"`
}

type eventsResponse struct {
	Summary any                  `json:"summary"`
	Events  []models.IntakeEvent `json:"events"`
}

// Helper functions

// readCandidates turns the "files" parts of a form into candidates, in the
// order the client sent them. An optional "lastModified" value per file
// carries the client timestamp in Unix milliseconds.
func readCandidates(form *multipart.Form) ([]models.CandidateFile, error) {
	headers := form.File["files"]
	lastModified := form.Value["lastModified"]

	candidates := make([]models.CandidateFile, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}

		cand := models.CandidateFile{
			Name:     fh.Filename,
			Size:     fh.Size,
			MimeType: fh.Header.Get(echo.HeaderContentType),
			Data:     data,
		}
		if i < len(lastModified) {
			if ms, err := strconv.ParseInt(lastModified[i], 10, 64); err == nil {
				cand.LastModified = time.UnixMilli(ms)
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
