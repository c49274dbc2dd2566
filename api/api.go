// Package api wires the release-request operations onto an echo router.
// Every handler resolves the authenticated actor, delegates to the
// controller, and renders the result through the visibility filter so
// the blinding rules hold at the wire.
package api

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/controller"
	"airlock.evalgo.org/version"
	"airlock.evalgo.org/workspace"
)

// actorKey is the echo context key the resolved user is stored under.
const actorKey = "airlock.actor"

// API holds the handler dependencies.
type API struct {
	auth       *auth.Service
	controller *controller.Controller
	workspaces *workspace.Service
}

// New creates the handler set.
func New(authSvc *auth.Service, ctrl *controller.Controller, workspaces *workspace.Service) *API {
	return &API{
		auth:       authSvc,
		controller: ctrl,
		workspaces: workspaces,
	}
}

// SetupRoutes registers all routes: the public login and health
// endpoints, and the JWT-protected operation group.
func (a *API) SetupRoutes(e *echo.Echo) {
	e.GET("/health", healthHandler)
	e.POST("/login", a.Login)

	g := e.Group("/api/v1")
	g.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  a.auth.Tokens().Secret(),
		TokenLookup: "header:Authorization:Bearer ",
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(auth.Claims)
		},
	}))
	g.Use(a.resolveActor)

	g.GET("/workspaces", a.ListWorkspaces)
	g.GET("/workspaces/:workspace/files", a.BrowseWorkspace)
	g.GET("/workspaces/:workspace/file", a.OpenWorkspaceFile)

	g.GET("/requests", a.ListRequests)
	g.GET("/requests/outstanding", a.OutstandingReviews)
	g.POST("/requests", a.CreateRequest)
	g.GET("/requests/:id", a.GetRequest)
	g.GET("/requests/:id/file", a.OpenRequestFile)

	g.POST("/requests/:id/files", a.AddFiles)
	g.POST("/requests/:id/files/update", a.UpdateFile)
	g.POST("/requests/:id/files/withdraw", a.WithdrawFile)
	g.POST("/requests/:id/files/properties", a.ChangeFileProperties)
	g.POST("/requests/:id/groups/:group", a.EditGroup)

	g.POST("/requests/:id/submit", a.Submit)
	g.POST("/requests/:id/withdraw", a.WithdrawRequest)

	g.POST("/requests/:id/vote", a.Vote)
	g.POST("/requests/:id/vote/reset", a.ResetVote)
	g.POST("/requests/:id/vote/undecided", a.MarkUndecided)
	g.POST("/requests/:id/review", a.SubmitReview)
	g.POST("/requests/:id/return", a.ReturnRequest)
	g.POST("/requests/:id/reject", a.Reject)
	g.POST("/requests/:id/release", a.ReleaseFiles)
	g.POST("/requests/:id/rerelease", a.ReRelease)

	g.POST("/requests/:id/comments", a.CreateComment)
	g.POST("/requests/:id/comments/:commentID/public", a.PromoteComment)
	g.DELETE("/requests/:id/comments/:commentID", a.DeleteComment)
}

func healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "airlock",
		"version": version.GetAirlockVersion(),
	})
}

// resolveActor turns the validated JWT claims into a capability-bearing
// user for the handlers downstream.
func (a *API) resolveActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get("user").(*jwt.Token)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		claims, ok := token.Claims.(*auth.Claims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
		}
		user, err := a.auth.Resolve(c.Request().Context(), claims)
		if err != nil {
			return err
		}
		c.Set(actorKey, user)
		return next(c)
	}
}

// actor returns the resolved user for the current request.
func actor(c echo.Context) *auth.User {
	user, _ := c.Get(actorKey).(*auth.User)
	return user
}
