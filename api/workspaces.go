package api

import (
	"mime"
	"net/http"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"airlock.evalgo.org/workspace"
)

type workspaceEntryView struct {
	workspace.Entry
	SizeHuman string `json:"size_human,omitempty"`
}

// ListWorkspaces returns the workspaces the actor may browse.
func (a *API) ListWorkspaces(c echo.Context) error {
	all, err := a.workspaces.ListWorkspaces()
	if err != nil {
		return err
	}
	visible := a.controller.Workspaces(c.Request().Context(), actor(c), all)
	if visible == nil {
		visible = []string{}
	}
	return c.JSON(http.StatusOK, visible)
}

// BrowseWorkspace lists a workspace directory with per-file status.
func (a *API) BrowseWorkspace(c echo.Context) error {
	entries, err := a.controller.BrowseWorkspace(c.Request().Context(), actor(c), c.Param("workspace"), c.QueryParam("dir"))
	if err != nil {
		return err
	}
	views := make([]workspaceEntryView, 0, len(entries))
	for _, entry := range entries {
		view := workspaceEntryView{Entry: entry}
		if !entry.IsDir {
			view.SizeHuman = humanize.Bytes(uint64(entry.Size))
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

// OpenWorkspaceFile streams a workspace file for display.
func (a *API) OpenWorkspaceFile(c echo.Context) error {
	relpath := c.QueryParam("path")
	if relpath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path query parameter is required")
	}
	f, err := a.controller.OpenWorkspaceFile(c.Request().Context(), actor(c), c.Param("workspace"), relpath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Stream(http.StatusOK, contentTypeFor(relpath), f)
}

// OpenRequestFile streams a request file's snapshot. Reviewers read the
// snapshot, never the live workspace.
func (a *API) OpenRequestFile(c echo.Context) error {
	relpath := c.QueryParam("path")
	if relpath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path query parameter is required")
	}
	f, err := a.controller.OpenRequestFile(c.Request().Context(), actor(c), c.Param("id"), relpath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Stream(http.StatusOK, contentTypeFor(relpath), f)
}

func contentTypeFor(relpath string) string {
	if t := mime.TypeByExtension(path.Ext(relpath)); t != "" {
		return t
	}
	return echo.MIMEOctetStream
}
