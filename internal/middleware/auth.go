package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/medianest/backend/api/transport"
	"github.com/medianest/backend/domain"
	"github.com/medianest/backend/pkg/httpcontext"
	"github.com/medianest/backend/usecase/guard"
)

// Guard wraps a handler with the full per-request authorization decision.
// The endpoint class selects which rate policy applies behind the token
// checks. On success the authenticated identity travels to the handler via
// request headers, overwriting anything the client tried to smuggle in.
func Guard(g *guard.Guard, adapter *httpcontext.Adapter, class string, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				writeRejection(ctx, domain.RejectionFor(domain.ErrMalformedToken))
				return
			}

			stdCtx, cancel := adapter.Attach(ctx)
			defer cancel()

			verdict := g.Authorize(stdCtx, guard.Request{
				Token:         tokenString,
				Fingerprint:   httpcontext.Fingerprint(ctx),
				RemoteAddr:    httpcontext.RemoteIP(ctx),
				EndpointClass: class,
			})
			if !verdict.Allowed {
				writeRejection(ctx, verdict.Rejection)
				return
			}

			ctx.Request.Header.Set("X-User-ID", verdict.Decision.Subject)
			ctx.Request.Header.Set("X-User-Role", verdict.Decision.Role)
			next(ctx)
		}
	}
}

func writeRejection(ctx *fasthttp.RequestCtx, rejection domain.Rejection) {
	status := http.StatusUnauthorized
	if rejection.Code == domain.ErrCodeRateLimited {
		status = http.StatusTooManyRequests
		if rejection.RetryAfterSeconds > 0 {
			ctx.Response.Header.Set("Retry-After", strconv.Itoa(rejection.RetryAfterSeconds))
		}
	}
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(transport.NewRejection(string(rejection.Code), rejection.Message, rejection.RetryAfterSeconds))
	ctx.SetBody(body)
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}
