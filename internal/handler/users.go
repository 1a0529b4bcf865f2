package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		StudentID string `json:"studentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.RegisterUser(c.Request.Context(), req.Name, req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	tokens, err := h.tokens.Issue(p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": viewProfile(p), "tokens": tokens})
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tokens, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *Handler) profile(c *gin.Context) {
	p, err := h.svc.Profile(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProfile(p))
}

// myClassrooms reconciles the cached enrollment map before listing it.
func (h *Handler) myClassrooms(c *gin.Context) {
	rooms, err := h.svc.ReconcileEnrollment(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classrooms": rooms})
}

func (h *Handler) openQuestions(c *gin.Context) {
	ch, err := h.svc.ObserveOpenQuestions(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, "questions", ch)
}

// scan resolves a QR payload: a classroom code enrolls the user, a session
// code finds the session to check in to.
func (h *Handler) scan(c *gin.Context) {
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := attendance.ParseScan(req.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	uid := auth.UserID(c)
	switch s.Kind {
	case attendance.ScanClassroom:
		room, err := h.svc.JoinClassroom(ctx, uid, s.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": s.Kind, "classroom": viewClassroom(room)})
	case attendance.ScanSession:
		cid, sess, err := h.svc.LocateSession(ctx, uid, s.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": s.Kind, "classroomId": cid, "session": viewSession(sess)})
	}
}
