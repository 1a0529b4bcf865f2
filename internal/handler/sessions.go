package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/export"
	"classattend/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) listSessions(c *gin.Context) {
	list, err := h.svc.ListSessions(c.Request.Context(), auth.UserID(c), c.Param("cid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) createSession(c *gin.Context) {
	var in attendance.SessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), auth.UserID(c), c.Param("cid"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewSession(sess))
}

func (h *Handler) session(c *gin.Context) {
	sess, err := h.svc.Session(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.svc.DeleteSession(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setState(c *gin.Context) {
	var req struct {
		State *model.SessionState `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.SetSessionState(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), *req.State); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": *req.State})
}

func (h *Handler) submit(c *gin.Context) {
	var req struct {
		Code   string `json:"code" binding:"required"`
		Remark string `json:"remark"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.Submit(c.Request.Context(), attendance.SubmitRequest{
		ClassroomID: c.Param("cid"),
		SessionID:   c.Param("sid"),
		StudentID:   auth.UserID(c),
		Code:        req.Code,
		Remark:      req.Remark,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) roster(c *gin.Context) {
	_, sess, records, err := h.svc.Roster(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": viewSession(sess), "records": records})
}

func (h *Handler) rosterStream(c *gin.Context) {
	ch, err := h.svc.ObserveRoster(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, "roster", ch)
}

func (h *Handler) rosterExport(c *gin.Context) {
	room, sess, records, err := h.svc.Roster(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s.xlsx", room.Code, sess.Code)))
	c.Status(http.StatusOK)
	if err := export.WriteRoster(c.Writer, room, sess, records, nil); err != nil {
		h.log.Error("roster export failed", zap.String("sid", sess.ID), zap.Error(err))
	}
}

func (h *Handler) updateRecord(c *gin.Context) {
	var req struct {
		Field string `json:"field" binding:"required"`
		Value any    `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.svc.UpdateAttendanceField(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), c.Param("uid"), req.Field, req.Value)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
