package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/medianest/backend/api/transport"
	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/pkg/httpcontext"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.NewSuccess(data, nil))
}

func (h baseHandler) respondError(ctx *fasthttp.RequestCtx, err error) {
	status, code := mapError(err)
	if code == domain.ErrCodeRateLimited {
		if retry, ok := domain.RetryAfter(err); ok && retry > 0 {
			ctx.Response.Header.Set("Retry-After", strconv.Itoa(retry))
		}
	}
	h.respondJSON(ctx, status, transport.NewError(string(code), err.Error(), nil))
}

func mapError(err error) (int, domain.ErrorCode) {
	return statusForCode(domain.CodeOf(err))
}

func statusForCode(code domain.ErrorCode) (int, domain.ErrorCode) {
	switch code {
	case domain.ErrCodeUnauthenticated, domain.ErrCodeTokenRevoked, domain.ErrCodeFingerprint:
		return http.StatusUnauthorized, code
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests, code
	case domain.ErrCodeForbidden:
		return http.StatusForbidden, code
	case domain.ErrCodeInvalid:
		return http.StatusBadRequest, code
	case domain.ErrCodeNotFound:
		return http.StatusNotFound, code
	case domain.ErrCodeConflict:
		return http.StatusConflict, code
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternal
	}
}

