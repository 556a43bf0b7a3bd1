package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/audit"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/media"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/service"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/response"
)

// Handler handles HTTP requests for delivery service.
type Handler struct {
	connections service.ConnectionService
	media       *media.Store
	maxUpload   int64
}

// NewHandler creates a new HTTP handler.
func NewHandler(connections service.ConnectionService, store *media.Store, maxUpload int64) *Handler {
	return &Handler{
		connections: connections,
		media:       store,
		maxUpload:   maxUpload,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.POST("/devices", h.RegisterDevice)
		api.POST("/uploads", h.Upload)
		api.GET("/presence/:userId", h.GetPresence)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterDevice registers or refreshes a push device for a member.
func (h *Handler) RegisterDevice(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	device, err := h.connections.RegisterDevice(ctx, req.UserID, &req.DeviceInfo)
	if err != nil {
		l.Error().Err(err).Str(log.FieldMemberID, req.UserID).Msg("failed to register device")
		writeError(c, err)
		return
	}

	response.Success(c, device)
}

// Upload stores a multipart file and returns its URL and kind.
func (h *Handler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RequestEntityTooLarge(c, "file too large")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}

	file, err := header.Open()
	if err != nil {
		l.Error().Err(err).Msg("failed to open upload")
		response.InternalError(c, "failed to read upload")
		return
	}
	defer file.Close()

	stored, err := h.media.Store(ctx, header.Filename, file, header.Size)
	if err != nil {
		l.Error().Err(err).Str("filename", header.Filename).Msg("failed to store upload")
		writeError(c, err)
		return
	}

	audit.LogWithTarget(ctx, audit.ActionUpload, 0, stored.Key, "media uploaded")
	response.Created(c, stored)
}

// GetPresence reports whether a member is online.
func (h *Handler) GetPresence(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	memberID := c.Param("userId")

	status, err := h.connections.Presence(ctx, memberID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldMemberID, memberID).Msg("failed to get presence")
		writeError(c, err)
		return
	}

	response.Success(c, status)
}

// writeError maps a service error onto the same codes the socket acks use.
func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case domain.ErrCodeUnknownRecipient:
		status = http.StatusNotFound
	case domain.ErrCodeTransportFailure:
		status = http.StatusBadGateway
	}
	response.Error(c, status, code, domain.Reason(err))
}
