package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"airlock.evalgo.org/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type loginResponse struct {
	Token         string   `json:"token"`
	Username      string   `json:"username"`
	OutputChecker bool     `json:"output_checker"`
	Workspaces    []string `json:"workspaces"`
}

// Login exchanges Jobs-site credentials for a session token.
func (a *API) Login(c echo.Context) error {
	var body loginRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed login body")
	}
	if body.Username == "" || body.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and token are required")
	}

	user, token, err := a.auth.Login(c.Request().Context(), body.Username, body.Token)
	if err != nil {
		if errors.Is(err, auth.ErrLoginFailed) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or token")
		}
		return err
	}

	return c.JSON(http.StatusOK, loginResponse{
		Token:         token,
		Username:      user.Username,
		OutputChecker: user.OutputChecker,
		Workspaces:    user.WorkspaceNames(),
	})
}
