// Package http exposes the REST API, the browser sign-in endpoints and
// the incident event stream.
package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/application"
	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/events"
	"github.com/firsec/fir/internal/oauth"
	"github.com/firsec/fir/internal/session"
	"github.com/firsec/fir/internal/transport/mw"
)

const maxFileSize = 32 << 20 // 32 MiB

// Handler holds all HTTP handler methods.
type Handler struct {
	svc        *application.Service
	hub        *Hub
	flow       *oauth.Flow
	store      session.Store
	producer   *events.Producer
	cookieName string
}

// NewHandler creates a Handler. producer may be nil.
func NewHandler(svc *application.Service, hub *Hub, flow *oauth.Flow, store session.Store, producer *events.Producer, cookieName string) *Handler {
	if cookieName == "" {
		cookieName = oauth.DefaultCookieName
	}
	return &Handler{svc: svc, hub: hub, flow: flow, store: store, producer: producer, cookieName: cookieName}
}

// --- Incidents ---

// ListIncidents GET /api/incidents
func (h *Handler) ListIncidents(c echo.Context) error {
	user, _ := mw.CurrentUser(c)

	filter := domain.IncidentFilter{
		Category:     c.QueryParam("category"),
		Subject:      c.QueryParam("subject"),
		Description:  c.QueryParam("description"),
		BusinessLine: c.QueryParam("business_line"),
		Status:       domain.IncidentStatus(c.QueryParam("status")),
		Limit:        parseIntQuery(c, "limit", 0),
		Offset:       parseIntQuery(c, "offset", 0),
	}
	if raw := c.QueryParam("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid incident id")
		}
		filter.ID = &id
	}

	incidents, err := h.svc.ListIncidents(c.Request().Context(), user, filter)
	if err != nil {
		return internalError(c, err, "list incidents")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":   incidents,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// CreateIncident POST /api/incidents
func (h *Handler) CreateIncident(c echo.Context) error {
	user, _ := mw.CurrentUser(c)

	var inc domain.Incident
	if err := c.Bind(&inc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid incident payload")
	}
	if inc.Subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject is required")
	}

	created, err := h.svc.CreateIncident(c.Request().Context(), user, &inc)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown business line")
		}
		return internalError(c, err, "create incident")
	}
	return c.JSON(http.StatusCreated, created)
}

// GetIncident GET /api/incidents/:id
func (h *Handler) GetIncident(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inc, err := h.svc.GetIncident(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(c, err, "get incident")
	}
	return c.JSON(http.StatusOK, inc)
}

// UpdateIncident PUT /api/incidents/:id
func (h *Handler) UpdateIncident(c echo.Context) error {
	user, _ := mw.CurrentUser(c)
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var inc domain.Incident
	if err := c.Bind(&inc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid incident payload")
	}
	inc.ID = id

	updated, err := h.svc.UpdateIncident(c.Request().Context(), user, &inc)
	if err != nil {
		return notFoundOr(c, err, "update incident")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteIncident DELETE /api/incidents/:id
func (h *Handler) DeleteIncident(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteIncident(c.Request().Context(), id); err != nil {
		return notFoundOr(c, err, "delete incident")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Comments ---

// ListComments GET /api/incidents/:id/comments
func (h *Handler) ListComments(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	comments, err := h.svc.Comments(c.Request().Context(), id)
	if err != nil {
		return internalError(c, err, "list comments")
	}
	return c.JSON(http.StatusOK, comments)
}

// CreateComment POST /api/incidents/:id/comments
func (h *Handler) CreateComment(c echo.Context) error {
	user, _ := mw.CurrentUser(c)
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var comment domain.Comment
	if err := c.Bind(&comment); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid comment payload")
	}
	comment.IncidentID = id
	if comment.Comment == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "comment is required")
	}

	created, err := h.svc.AddComment(c.Request().Context(), user, &comment)
	if err != nil {
		return internalError(c, err, "create comment")
	}
	return c.JSON(http.StatusCreated, created)
}

// DeleteComment DELETE /api/comments/:id
func (h *Handler) DeleteComment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteComment(c.Request().Context(), id); err != nil {
		return notFoundOr(c, err, "delete comment")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Artifacts ---

// ListArtifacts GET /api/artifacts
func (h *Handler) ListArtifacts(c echo.Context) error {
	filter := domain.ArtifactFilter{
		Value:  c.QueryParam("value"),
		Limit:  parseIntQuery(c, "limit", 0),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if raw := c.QueryParam("incident"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid incident id")
		}
		filter.IncidentID = &id
	}

	artifacts, err := h.svc.Artifacts(c.Request().Context(), filter)
	if err != nil {
		return internalError(c, err, "list artifacts")
	}
	return c.JSON(http.StatusOK, artifacts)
}

// GetArtifact GET /api/artifacts/:value
func (h *Handler) GetArtifact(c echo.Context) error {
	artifact, err := h.svc.Artifact(c.Request().Context(), c.Param("value"))
	if err != nil {
		return notFoundOr(c, err, "get artifact")
	}
	return c.JSON(http.StatusOK, artifact)
}

// --- Attributes ---

// ListAttributes GET /api/incidents/:id/attributes
func (h *Handler) ListAttributes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	attrs, err := h.svc.Attributes(c.Request().Context(), id)
	if err != nil {
		return internalError(c, err, "list attributes")
	}
	return c.JSON(http.StatusOK, attrs)
}

// CreateAttribute POST /api/incidents/:id/attributes
func (h *Handler) CreateAttribute(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var attr domain.Attribute
	if err := c.Bind(&attr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid attribute payload")
	}
	attr.IncidentID = id
	if attr.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	created, err := h.svc.AddAttribute(c.Request().Context(), &attr)
	if err != nil {
		return internalError(c, err, "create attribute")
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateAttribute PUT /api/attributes/:id
func (h *Handler) UpdateAttribute(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var attr domain.Attribute
	if err := c.Bind(&attr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid attribute payload")
	}
	attr.ID = id

	updated, err := h.svc.UpdateAttribute(c.Request().Context(), &attr)
	if err != nil {
		return notFoundOr(c, err, "update attribute")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteAttribute DELETE /api/attributes/:id
func (h *Handler) DeleteAttribute(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAttribute(c.Request().Context(), id); err != nil {
		return notFoundOr(c, err, "delete attribute")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Files ---

// ListFiles GET /api/incidents/:id/files
func (h *Handler) ListFiles(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	files, err := h.svc.Files(c.Request().Context(), id)
	if err != nil {
		return internalError(c, err, "list files")
	}
	return c.JSON(http.StatusOK, files)
}

// UploadFile POST /api/incidents/:id/files — multipart with a "file" part.
func (h *Handler) UploadFile(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	part, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file part is required")
	}
	if part.Size > maxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds the size limit")
	}
	src, err := part.Open()
	if err != nil {
		return internalError(c, err, "open upload")
	}
	defer src.Close()
	content, err := io.ReadAll(io.LimitReader(src, maxFileSize))
	if err != nil {
		return internalError(c, err, "read upload")
	}

	created, err := h.svc.AddFile(c.Request().Context(), &domain.File{
		IncidentID:  id,
		Name:        part.Filename,
		Description: c.FormValue("description"),
		Content:     content,
	})
	if err != nil {
		return internalError(c, err, "store file")
	}
	return c.JSON(http.StatusCreated, created)
}

// DownloadFile GET /api/files/:id/download
func (h *Handler) DownloadFile(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	file, err := h.svc.File(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(c, err, "get file")
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Blob(http.StatusOK, "application/octet-stream", file.Content)
}

// --- Reference tables ---

// ListLabels GET /api/labels
func (h *Handler) ListLabels(c echo.Context) error {
	labels, err := h.svc.Labels(c.Request().Context())
	if err != nil {
		return internalError(c, err, "list labels")
	}
	return c.JSON(http.StatusOK, labels)
}

// ListBusinessLines GET /api/businesslines
func (h *Handler) ListBusinessLines(c echo.Context) error {
	lines, err := h.svc.BusinessLines(c.Request().Context())
	if err != nil {
		return internalError(c, err, "list business lines")
	}
	return c.JSON(http.StatusOK, lines)
}

// ListCategories GET /api/incident_categories
func (h *Handler) ListCategories(c echo.Context) error {
	categories, err := h.svc.Categories(c.Request().Context())
	if err != nil {
		return internalError(c, err, "list categories")
	}
	return c.JSON(http.StatusOK, categories)
}

// ListTemplates GET /api/incident_templates
func (h *Handler) ListTemplates(c echo.Context) error {
	templates, err := h.svc.Templates(c.Request().Context())
	if err != nil {
		return internalError(c, err, "list templates")
	}
	return c.JSON(http.StatusOK, templates)
}

// --- Users ---

type userRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	IsActive       *bool  `json:"is_active"`
	HideClosed     bool   `json:"hide_closed"`
	IncidentNumber int    `json:"incident_number"`
}

// ListUsers GET /api/users
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.svc.Users(c.Request().Context())
	if err != nil {
		return internalError(c, err, "list users")
	}
	return c.JSON(http.StatusOK, users)
}

// GetUser GET /api/users/:id
func (h *Handler) GetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	user, err := h.svc.User(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(c, err, "get user")
	}
	return c.JSON(http.StatusOK, user)
}

// CreateUser POST /api/users
func (h *Handler) CreateUser(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user payload")
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	hash := ""
	if req.Password != "" {
		var err error
		hash, err = auth.HashPassword(req.Password)
		if err != nil {
			return internalError(c, err, "hash password")
		}
	}
	user, err := h.svc.CreateUser(c.Request().Context(), domain.CreateUserInput{
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   hash,
		HideClosed:     req.HideClosed,
		IncidentNumber: req.IncidentNumber,
	})
	if err != nil {
		return internalError(c, err, "create user")
	}
	return c.JSON(http.StatusCreated, user)
}

// UpdateUser PUT /api/users/:id
func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user payload")
	}

	user, err := h.svc.User(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(c, err, "get user")
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return internalError(c, err, "hash password")
		}
		user.PasswordHash = hash
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	user.HideClosed = req.HideClosed
	if req.IncidentNumber > 0 {
		user.IncidentNumber = req.IncidentNumber
	}

	if err := h.svc.UpdateUser(c.Request().Context(), user); err != nil {
		return notFoundOr(c, err, "update user")
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteUser DELETE /api/users/:id
func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id); err != nil {
		return notFoundOr(c, err, "delete user")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Tokens ---

// IssueToken POST /api/token — the key is returned exactly once.
func (h *Handler) IssueToken(c echo.Context) error {
	user, _ := mw.CurrentUser(c)
	token, err := h.svc.IssueToken(c.Request().Context(), user)
	if err != nil {
		return internalError(c, err, "issue token")
	}
	return c.JSON(http.StatusCreated, token)
}

// RevokeToken DELETE /api/token/:key
func (h *Handler) RevokeToken(c echo.Context) error {
	if err := h.svc.RevokeToken(c.Request().Context(), c.Param("key")); err != nil {
		return notFoundOr(c, err, "revoke token")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- SSE ---

// Stream GET /api/incidents/stream — pushes created and updated incidents.
func (h *Handler) Stream(c echo.Context) error {
	user, _ := mw.CurrentUser(c)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendCh := make(chan []byte, 32)
	client := h.hub.Register(user.Username, user.CanHandleIncidents(), sendCh)
	defer h.hub.Unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	w.Flush()

	log.Info().Str("user", user.Username).Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg, ok := <-sendCh:
			if !ok {
				return nil
			}
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Str("user", user.Username).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"sse_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func internalError(c echo.Context, err error, op string) error {
	log.Error().Err(err).Str("op", op).Str("path", c.Path()).Msg("request failed")
	return echo.ErrInternalServerError
}

func notFoundOr(c echo.Context, err error, op string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return internalError(c, err, op)
}
