package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harinder441/daily-notes-ai/internal/auth"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const (
	userIDContextKey         = "daily_notes_user_id"
	dayParam                 = "day"
	defaultHeartbeatInterval = 25 * time.Second
	streamWriteTimeout       = 5 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingNotesService     = errors.New("notes service dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator authenticates API requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	SessionValidator  SessionValidator
	NotesService      *notes.Service
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// NewHTTPHandler builds the gin router serving the notes API and change feed.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		notesService:      deps.NotesService,
		realtime:          deps.Realtime,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/notes")
	protected.Use(handler.authorizeRequest)
	protected.GET("/stream", handler.handleNotesStream)
	protected.GET("/export/pending", handler.handleExportPending)
	protected.POST("/export/mark", handler.handleExportMark)
	protected.GET("/:"+dayParam, handler.handleGetNote)
	protected.PUT("/:"+dayParam, handler.handlePutNote)
	protected.DELETE("/:"+dayParam, handler.handleDeleteNote)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	sessions          SessionValidator
	notesService      *notes.Service
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

type notePayload struct {
	DayKey          string `json:"day_key"`
	Content         string `json:"content"`
	UpdatedAtMillis int64  `json:"updated_at_ms"`
	NotionSynced    bool   `json:"notion_synced"`
}

type upsertRequestPayload struct {
	Content         *string `json:"content"`
	UpdatedAtMillis int64   `json:"updated_at_ms"`
}

type upsertResponsePayload struct {
	Note     notePayload `json:"note"`
	Inserted bool        `json:"inserted"`
}

type markRequestPayload struct {
	Days []string `json:"days"`
}

func newNotePayload(record notes.Record) notePayload {
	return notePayload{
		DayKey:          record.DayKey.String(),
		Content:         record.Content,
		UpdatedAtMillis: record.UpdatedAt.UnixMilli(),
		NotionSynced:    record.NotionSynced,
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID, day, ok := h.requireUserDay(c)
	if !ok {
		return
	}
	record, found, err := h.notesService.FetchNote(c.Request.Context(), userID, day)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, newNotePayload(record))
}

func (h *httpHandler) handlePutNote(c *gin.Context) {
	userID, day, ok := h.requireUserDay(c)
	if !ok {
		return
	}
	var request upsertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == nil || request.UpdatedAtMillis <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.notesService.UpsertNote(c.Request.Context(), notes.UpsertRequest{
		UserID:    userID,
		DayKey:    day,
		Content:   *request.Content,
		UpdatedAt: notes.TimeFromMillis(request.UpdatedAtMillis),
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	status := http.StatusOK
	if result.Inserted {
		status = http.StatusCreated
	}
	c.JSON(status, upsertResponsePayload{Note: newNotePayload(result.Record), Inserted: result.Inserted})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, day, ok := h.requireUserDay(c)
	if !ok {
		return
	}
	deleted, err := h.notesService.DeleteNote(c.Request.Context(), userID, day)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExportPending(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	records, err := h.notesService.ListPendingExport(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payload := make([]notePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, newNotePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload})
}

func (h *httpHandler) handleExportMark(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request markRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Days) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	days := make([]notes.DayKey, 0, len(request.Days))
	for _, raw := range request.Days {
		day, err := notes.ParseDayKey(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
			return
		}
		days = append(days, day)
	}
	marked, err := h.notesService.MarkExported(c.Request.Context(), userID, days)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// handleNotesStream upgrades to a websocket and forwards the user's change events until the
// peer disconnects.
func (h *httpHandler) handleNotesStream(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	conn, err := websocket.Accept(hijackableWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()
	h.logger.Debug("change stream opened",
		zap.String("user_id", userID.String()),
		zap.Int("subscribers", h.realtime.SubscriberCount(userID)))

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-stream:
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := h.writeEvent(ctx, conn, event); err != nil {
				h.logger.Debug("change stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// hijackableWriter returns the writer beneath gin's wrapper. The websocket handshake flushes
// the status line before hijacking, which gin's wrapper refuses once a header is written.
func hijackableWriter(writer gin.ResponseWriter) http.ResponseWriter {
	if unwrapper, ok := writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		return unwrapper.Unwrap()
	}
	return writer
}

func (h *httpHandler) writeEvent(ctx context.Context, conn *websocket.Conn, event notes.ChangeEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := notes.NewUserID(claims.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requireUser(c *gin.Context) (notes.UserID, bool) {
	value, exists := c.Get(userIDContextKey)
	userID, ok := value.(notes.UserID)
	if !exists || !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) requireUserDay(c *gin.Context) (notes.UserID, notes.DayKey, bool) {
	userID, ok := h.requireUser(c)
	if !ok {
		return "", "", false
	}
	day, err := notes.ParseDayKey(c.Param(dayParam))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return "", "", false
	}
	return userID, day, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		if strings.HasSuffix(serviceErr.Code(), ".invalid_request") {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "request_failed", "code": serviceErr.Code()})
		return
	}
	h.logger.Error("notes request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request_failed"})
}
