package controller

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
)

// CreateComment attaches a comment to a file group. Authors comment
// publicly while they own the request; output checkers comment privately
// or publicly while reviewing.
func (c *Controller) CreateComment(ctx context.Context, actor request.Actor, requestID, groupName, text string, visibility request.Visibility) (*request.Request, error) {
	if strings.TrimSpace(text) == "" {
		return nil, request.Preconditionf("comment text must not be empty")
	}
	switch visibility {
	case request.VisibilityPublic, request.VisibilityPrivate:
	default:
		return nil, request.Preconditionf("unknown comment visibility %s", visibility)
	}

	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanComment(actor, r, visibility); err != nil {
			return nil, err
		}
		group := r.Group(groupName)
		if group == nil {
			return nil, request.NotFoundf("filegroup %s not found", groupName)
		}

		comment := &request.Comment{
			ID:         uuid.NewString(),
			GroupID:    group.ID,
			Author:     actor.Name(),
			Text:       text,
			Visibility: visibility,
			ReviewTurn: r.ReviewTurn,
		}
		if err := tx.CreateComment(ctx, comment); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestComment, actor, r, "", map[string]string{
			"group":      groupName,
			"visibility": string(visibility),
		}))
	})
}

// PromoteComment makes the actor's own private comment public. Only
// within the comment's turn, only PRIVATE→PUBLIC.
func (c *Controller) PromoteComment(ctx context.Context, actor request.Actor, requestID, commentID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		comment, group := r.CommentByID(commentID)
		if comment == nil {
			return nil, request.NotFoundf("comment not found")
		}
		if err := request.CheckCanPromoteComment(actor, r, comment); err != nil {
			return nil, err
		}

		comment.Visibility = request.VisibilityPublic
		if err := tx.SaveComment(ctx, comment); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestCommentVisibility, actor, r, "", map[string]string{
			"group": group.Name,
		}))
	})
}

// DeleteComment removes the actor's own comment while its turn is still
// current.
func (c *Controller) DeleteComment(ctx context.Context, actor request.Actor, requestID, commentID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		comment, group := r.CommentByID(commentID)
		if comment == nil {
			return nil, request.NotFoundf("comment not found")
		}
		if err := request.CheckCanDeleteComment(actor, r, comment); err != nil {
			return nil, err
		}

		if err := tx.DeleteComment(ctx, comment); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestCommentDelete, actor, r, "", map[string]string{
			"group": group.Name,
		}))
	})
}
