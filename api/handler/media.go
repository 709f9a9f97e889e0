package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/medianest/backend/api/transport"
	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/pkg/httpcontext"
)

// MediaHandler serves the protected media surface. The interesting work
// happened before these run, in the guard middleware; the handlers only
// consume the identity it established.
type MediaHandler struct {
	baseHandler
}

func NewMediaHandler(adapter *httpcontext.Adapter, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{baseHandler: newBaseHandler(adapter, logger)}
}

// @Summary List the caller's media libraries
// @Tags media
// @Router /api/v1/media [get]
func (h *MediaHandler) List(ctx *fasthttp.RequestCtx) {
	subject := string(ctx.Request.Header.Peek("X-User-ID"))
	h.respondSuccess(ctx, http.StatusOK, map[string]interface{}{
		"subject":   subject,
		"role":      string(ctx.Request.Header.Peek("X-User-Role")),
		"libraries": []string{},
	})
}

// @Summary Submit a media acquisition request
// @Tags media
// @Router /api/v1/media/requests [post]
func (h *MediaHandler) SubmitRequest(ctx *fasthttp.RequestCtx) {
	var req transport.MediaRequestSubmission
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Title == "" {
		h.respondJSON(ctx, http.StatusBadRequest, transport.NewError(string(domain.ErrCodeInvalid), "invalid payload", nil))
		return
	}

	subject := string(ctx.Request.Header.Peek("X-User-ID"))
	h.logger.Info("media request submitted",
		zap.String("subject", subject),
		zap.String("title", req.Title),
		zap.String("media_type", req.MediaType),
	)
	h.respondSuccess(ctx, http.StatusAccepted, map[string]interface{}{
		"id":           uuid.NewString(),
		"title":        req.Title,
		"media_type":   req.MediaType,
		"requested_by": subject,
		"requested_at": time.Now().UTC(),
		"status":       "pending",
	})
}
