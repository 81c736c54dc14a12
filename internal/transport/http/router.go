package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/obs"
	"github.com/firsec/fir/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, chain *auth.Chain) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Api"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	e.Use(obs.Instrument)

	// No auth required
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))

	// Browser sign-in flow; cookie handling happens in the handlers.
	e.GET("/ms_auth/signin", h.SignIn)
	e.GET("/ms_auth/redirect", h.Redirect)
	e.GET("/ms_auth/signout", h.SignOut)
	e.GET("/ms_auth/home", h.Home)

	// API — requires authentication via the chain
	api := e.Group("/api")
	api.Use(mw.Authenticate(chain))

	handlers := mw.RequireIncidentHandler()
	admin := mw.RequireAdmin()

	// Incidents
	api.GET("/incidents", h.ListIncidents)
	api.POST("/incidents", h.CreateIncident, handlers)
	api.GET("/incidents/stream", h.Stream)
	api.GET("/incidents/:id", h.GetIncident)
	api.PUT("/incidents/:id", h.UpdateIncident, handlers)
	api.DELETE("/incidents/:id", h.DeleteIncident, admin)

	// Comments
	api.GET("/incidents/:id/comments", h.ListComments)
	api.POST("/incidents/:id/comments", h.CreateComment, handlers)
	api.DELETE("/comments/:id", h.DeleteComment, handlers)

	// Artifacts (read-only, extracted elsewhere)
	api.GET("/artifacts", h.ListArtifacts)
	api.GET("/artifacts/:value", h.GetArtifact)

	// Attributes
	api.GET("/incidents/:id/attributes", h.ListAttributes)
	api.POST("/incidents/:id/attributes", h.CreateAttribute, handlers)
	api.PUT("/attributes/:id", h.UpdateAttribute, handlers)
	api.DELETE("/attributes/:id", h.DeleteAttribute, handlers)

	// Files
	api.GET("/incidents/:id/files", h.ListFiles)
	api.POST("/incidents/:id/files", h.UploadFile, handlers)
	api.GET("/files/:id/download", h.DownloadFile)

	// Reference tables
	api.GET("/labels", h.ListLabels)
	api.GET("/businesslines", h.ListBusinessLines)
	api.GET("/incident_categories", h.ListCategories)
	api.GET("/incident_templates", h.ListTemplates)

	// Users
	api.GET("/users", h.ListUsers, admin)
	api.GET("/users/:id", h.GetUser, admin)
	api.POST("/users", h.CreateUser, admin)
	api.PUT("/users/:id", h.UpdateUser, admin)
	api.DELETE("/users/:id", h.DeleteUser, admin)

	// Tokens
	api.POST("/token", h.IssueToken)
	api.DELETE("/token/:key", h.RevokeToken)

	return e
}
