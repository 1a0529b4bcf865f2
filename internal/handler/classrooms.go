package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

func (h *Handler) createClassroom(c *gin.Context) {
	var in attendance.ClassroomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.svc.CreateClassroom(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewClassroom(room))
}

func (h *Handler) updateClassroom(c *gin.Context) {
	var in attendance.ClassroomPatch
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.svc.UpdateClassroom(c.Request.Context(), auth.UserID(c), c.Param("cid"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewClassroom(room))
}

func (h *Handler) deleteClassroom(c *gin.Context) {
	cid := c.Param("cid")
	removed, err := h.svc.DeleteClassroom(c.Request.Context(), auth.UserID(c), cid)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.enqueueReconcile(c.Request.Context(), cid, removed...)
	c.Status(http.StatusNoContent)
}

func (h *Handler) join(c *gin.Context) {
	room, err := h.svc.JoinClassroom(c.Request.Context(), auth.UserID(c), c.Param("cid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewClassroom(room))
}

func (h *Handler) members(c *gin.Context) {
	ms, err := h.svc.Members(c.Request.Context(), auth.UserID(c), c.Param("cid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": views(ms, viewMember)})
}

func (h *Handler) removeStudent(c *gin.Context) {
	cid, uid := c.Param("cid"), c.Param("uid")
	if err := h.svc.RemoveStudent(c.Request.Context(), auth.UserID(c), cid, uid); err != nil {
		h.fail(c, err)
		return
	}
	h.enqueueReconcile(c.Request.Context(), cid, uid)
	c.Status(http.StatusNoContent)
}

func (h *Handler) history(c *gin.Context) {
	hist, err := h.svc.AttendanceHistory(c.Request.Context(), auth.UserID(c), c.Param("cid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}
