package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"github.com/phyoewaiaung/devnexus-api/pkg/response"
	"github.com/phyoewaiaung/devnexus-api/pkg/validator"
)

type NotificationHandler struct {
	notifications service.NotificationService
}

func NewNotificationHandler(notifications service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GET /api/notifications?cursor=&types=&unread=&limit=
func (h *NotificationHandler) List(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	input := service.ListInput{
		Cursor:     c.Query("cursor"),
		UnreadOnly: c.Query("unread") == "true",
	}
	if types := c.Query("types"); types != "" {
		input.Types = strings.Split(types, ",")
	}
	if raw := c.Query("limit"); raw != "" {
		input.Limit, err = strconv.Atoi(raw)
		if err != nil {
			response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid limit"))
			return
		}
	}

	inbox, err := h.notifications.List(c.Request.Context(), userID, input)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

// GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required,min=1"`
}

// POST /api/notifications/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	updated, err := h.notifications.MarkRead(c.Request.Context(), userID, req.IDs)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

type markAllReadRequest struct {
	Types []string `json:"types"`
}

// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req markAllReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	updated, err := h.notifications.MarkAllRead(c.Request.Context(), userID, req.Types)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
