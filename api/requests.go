package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"airlock.evalgo.org/controller"
	"airlock.evalgo.org/request"
)

// ListRequests returns the actor's own requests, newest first.
func (a *API) ListRequests(c echo.Context) error {
	user := actor(c)
	requests, err := a.controller.RequestsForUser(c.Request().Context(), user)
	if err != nil {
		return err
	}
	views := make([]RequestView, 0, len(requests))
	for i := range requests {
		views = append(views, renderRequest(&requests[i], user))
	}
	return c.JSON(http.StatusOK, views)
}

// OutstandingReviews returns requests waiting on reviewers.
func (a *API) OutstandingReviews(c echo.Context) error {
	user := actor(c)
	requests, err := a.controller.OutstandingReviews(c.Request().Context(), user)
	if err != nil {
		return err
	}
	views := make([]RequestView, 0, len(requests))
	for i := range requests {
		views = append(views, renderRequest(&requests[i], user))
	}
	return c.JSON(http.StatusOK, views)
}

type createRequestBody struct {
	Workspace string `json:"workspace"`
}

// CreateRequest opens a new release request on a workspace.
func (a *API) CreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.Workspace == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace is required")
	}
	user := actor(c)
	r, err := a.controller.CreateRequest(c.Request().Context(), user, body.Workspace)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, renderRequest(r, user))
}

// GetRequest returns one request as visible to the actor.
func (a *API) GetRequest(c echo.Context) error {
	user := actor(c)
	r, err := a.controller.ViewRequest(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

type addFilesBody struct {
	Files []controller.FileAdd `json:"files"`
}

// AddFiles snapshots workspace files onto the request.
func (a *API) AddFiles(c echo.Context) error {
	var body addFilesBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.AddFiles(c.Request().Context(), user, c.Param("id"), body.Files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

type filePathBody struct {
	Relpath string `json:"relpath"`
}

// UpdateFile refreshes a file's snapshot from the workspace.
func (a *API) UpdateFile(c echo.Context) error {
	var body filePathBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.UpdateFile(c.Request().Context(), user, c.Param("id"), body.Relpath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// WithdrawFile takes a file off the request.
func (a *API) WithdrawFile(c echo.Context) error {
	var body filePathBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.WithdrawFile(c.Request().Context(), user, c.Param("id"), body.Relpath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

type filePropertiesBody struct {
	Relpath  string            `json:"relpath"`
	FileType *request.FileType `json:"filetype,omitempty"`
	Group    *string           `json:"group,omitempty"`
}

// ChangeFileProperties moves a file between groups or flips its type.
func (a *API) ChangeFileProperties(c echo.Context) error {
	var body filePropertiesBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	props := controller.FileProperties{FileType: body.FileType, Group: body.Group}
	r, err := a.controller.ChangeFileProperties(c.Request().Context(), user, c.Param("id"), body.Relpath, props)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// EditGroup updates a group's context and controls.
func (a *API) EditGroup(c echo.Context) error {
	var body controller.GroupEdit
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.EditGroup(c.Request().Context(), user, c.Param("id"), c.Param("group"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// Submit hands the request to the reviewers.
func (a *API) Submit(c echo.Context) error {
	return a.transition(c, a.controller.Submit)
}

// WithdrawRequest abandons the request.
func (a *API) WithdrawRequest(c echo.Context) error {
	return a.transition(c, a.controller.WithdrawRequest)
}

// SubmitReview records the reviewer's completed pass.
func (a *API) SubmitReview(c echo.Context) error {
	return a.transition(c, a.controller.SubmitReview)
}

// ReturnRequest sends the request back to the author.
func (a *API) ReturnRequest(c echo.Context) error {
	return a.transition(c, a.controller.ReturnRequest)
}

// Reject refuses the request outright.
func (a *API) Reject(c echo.Context) error {
	return a.transition(c, a.controller.Reject)
}

// ReleaseFiles approves the request and queues its files for upload.
func (a *API) ReleaseFiles(c echo.Context) error {
	return a.transition(c, a.controller.ReleaseFiles)
}

// transition runs a status-changing operation that takes no body.
func (a *API) transition(c echo.Context, op func(ctx context.Context, user request.Actor, requestID string) (*request.Request, error)) error {
	user := actor(c)
	r, err := op(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

type voteBody struct {
	Relpath string       `json:"relpath"`
	Vote    request.Vote `json:"vote"`
}

// Vote records the reviewer's verdict on a file.
func (a *API) Vote(c echo.Context) error {
	var body voteBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.Vote(c.Request().Context(), user, c.Param("id"), body.Relpath, body.Vote)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// ResetVote deletes the reviewer's own vote on a file.
func (a *API) ResetVote(c echo.Context) error {
	var body filePathBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.ResetVote(c.Request().Context(), user, c.Param("id"), body.Relpath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// MarkUndecided flips the reviewer's standing vote to UNDECIDED.
func (a *API) MarkUndecided(c echo.Context) error {
	var body filePathBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.MarkUndecided(c.Request().Context(), user, c.Param("id"), body.Relpath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

type reReleaseResponse struct {
	RetriedJobs int64 `json:"retried_jobs"`
}

// ReRelease re-queues the request's failed uploads.
func (a *API) ReRelease(c echo.Context) error {
	user := actor(c)
	n, err := a.controller.ReRelease(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reReleaseResponse{RetriedJobs: n})
}

type createCommentBody struct {
	Group      string             `json:"group"`
	Text       string             `json:"text"`
	Visibility request.Visibility `json:"visibility"`
}

// CreateComment attaches a comment to a file group.
func (a *API) CreateComment(c echo.Context) error {
	var body createCommentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	user := actor(c)
	r, err := a.controller.CreateComment(c.Request().Context(), user, c.Param("id"), body.Group, body.Text, body.Visibility)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// PromoteComment makes the actor's private comment public.
func (a *API) PromoteComment(c echo.Context) error {
	user := actor(c)
	r, err := a.controller.PromoteComment(c.Request().Context(), user, c.Param("id"), c.Param("commentID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}

// DeleteComment removes the actor's own comment.
func (a *API) DeleteComment(c echo.Context) error {
	user := actor(c)
	r, err := a.controller.DeleteComment(c.Request().Context(), user, c.Param("id"), c.Param("commentID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderRequest(r, user))
}
