package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/auth"
)

func (h *Handler) questions(c *gin.Context) {
	qs, err := h.svc.Questions(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": views(qs, viewQuestion)})
}

func (h *Handler) addQuestion(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.svc.AddQuestion(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewQuestion(q))
}

func (h *Handler) setVisible(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.svc.SetQuestionVisible(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), c.Param("qid"), *req.Visible)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

func (h *Handler) deleteQuestion(c *gin.Context) {
	if err := h.svc.DeleteQuestion(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), c.Param("qid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) submitAnswer(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.svc.SubmitAnswer(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), c.Param("qid"), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewAnswer(a))
}

func (h *Handler) answerStream(c *gin.Context) {
	ch, err := h.svc.ObserveAnswers(c.Request.Context(), auth.UserID(c), c.Param("cid"), c.Param("sid"), c.Param("qid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, "answers", ch)
}
