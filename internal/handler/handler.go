// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/observability"
	"classattend/internal/queue"
)

// Handler holds the dependencies of the HTTP routes.
type Handler struct {
	svc    *attendance.Service
	tokens *auth.Issuer
	jobs   queue.Queue
	log    *zap.Logger
}

func New(svc *attendance.Service, tokens *auth.Issuer, jobs queue.Queue, log *zap.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, jobs: jobs, log: log}
}

// Register mounts every route under /v1. submitLimit guards the check-in
// endpoint on top of any global limiter.
func (h *Handler) Register(r gin.IRouter, submitLimit gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.POST("/users", h.register)
	v1.POST("/auth/refresh", h.refresh)

	api := v1.Group("", auth.UserAuth(h.tokens))
	api.GET("/me", h.profile)
	api.GET("/me/classrooms", h.myClassrooms)
	api.GET("/me/open-questions", h.openQuestions)
	api.POST("/scan", h.scan)

	api.POST("/classrooms", h.createClassroom)
	room := api.Group("/classrooms/:cid")
	room.PATCH("", h.updateClassroom)
	room.DELETE("", h.deleteClassroom)
	room.POST("/join", h.join)
	room.GET("/members", h.members)
	room.DELETE("/members/:uid", h.removeStudent)
	room.GET("/history", h.history)
	room.GET("/sessions", h.listSessions)
	room.POST("/sessions", h.createSession)

	sess := room.Group("/sessions/:sid")
	sess.GET("", h.session)
	sess.DELETE("", h.deleteSession)
	sess.PUT("/state", h.setState)
	sess.POST("/submit", submitLimit, h.submit)
	sess.GET("/roster", h.roster)
	sess.GET("/roster/stream", h.rosterStream)
	sess.GET("/roster/export", h.rosterExport)
	sess.PATCH("/records/:uid", h.updateRecord)
	sess.GET("/questions", h.questions)
	sess.POST("/questions", h.addQuestion)
	sess.PUT("/questions/:qid/visible", h.setVisible)
	sess.DELETE("/questions/:qid", h.deleteQuestion)
	sess.POST("/questions/:qid/answers", h.submitAnswer)
	sess.GET("/questions/:qid/answers/stream", h.answerStream)
}

// fail writes the status matching err. Unexpected failures go to Sentry.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, attendance.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, attendance.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, attendance.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrSessionClosed),
		errors.Is(err, attendance.ErrCodeMismatch),
		errors.Is(err, attendance.ErrAlreadyEnrolled):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		observability.CaptureErr(err, map[string]string{"route": c.FullPath()})
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// enqueueReconcile asks the worker to re-check the cached enrollments of
// each user. Publish failures are logged; the next client read reconciles
// anyway.
func (h *Handler) enqueueReconcile(ctx context.Context, cid string, uids ...string) {
	for _, uid := range uids {
		msg, err := queue.NewMessage(queue.TypeReconcileEnrollment, queue.ReconcileJob{UserID: uid, ClassroomID: cid})
		if err == nil {
			err = h.jobs.Publish(ctx, msg)
		}
		if err != nil {
			h.log.Warn("enqueue reconcile failed", zap.String("uid", uid), zap.String("cid", cid), zap.Error(err))
		}
	}
}

// stream relays snapshots as server-sent events until the client leaves or
// the channel closes.
func stream[T any](c *gin.Context, event string, ch <-chan T) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		v, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(event, v)
		return true
	})
}
