package router

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	apiHandler "github.com/medianest/backend/api/handler"
)

type Handlers struct {
	Auth   *apiHandler.AuthHandler
	Media  *apiHandler.MediaHandler
	Health *apiHandler.HealthHandler
}

// Middleware bundles the guard wrappers, one per endpoint class.
type Middleware struct {
	General      func(fasthttp.RequestHandler) fasthttp.RequestHandler
	MediaRequest func(fasthttp.RequestHandler) fasthttp.RequestHandler
}

func New(handlers Handlers, mw Middleware, enableMetrics bool) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if enableMetrics {
		r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	}

	// Auth routes. Login and refresh authenticate by credential or token in
	// the body; logout authenticates by the token it revokes. Registration
	// requires an already-authorized admin.
	r.POST("/api/v1/auth/login", handlers.Auth.Login)
	r.POST("/api/v1/auth/refresh", handlers.Auth.Refresh)
	r.POST("/api/v1/auth/logout", handlers.Auth.Logout)
	r.POST("/api/v1/auth/register", mw.General(handlers.Auth.Register))

	// Protected routes
	r.GET("/api/v1/media", mw.General(handlers.Media.List))
	r.POST("/api/v1/media/requests", mw.MediaRequest(handlers.Media.SubmitRequest))

	return r
}
