package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/model"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"github.com/phyoewaiaung/devnexus-api/pkg/response"
	"github.com/phyoewaiaung/devnexus-api/pkg/validator"
)

type ChatHandler struct {
	chat service.ChatService
}

func NewChatHandler(chat service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type createDirectRequest struct {
	UserID  uuid.UUID `json:"user_id" binding:"required"`
	Message string    `json:"message"`
}

// POST /api/chats/direct
func (h *ChatHandler) CreateDirect(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req createDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	convo, err := h.chat.CreateDirect(c.Request.Context(), userID, req.UserID, req.Message)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, convo)
}

type createGroupRequest struct {
	Title    string      `json:"title" binding:"required,max=255"`
	Invitees []uuid.UUID `json:"invitees"`
}

// POST /api/chats/group
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	convo, err := h.chat.CreateGroup(c.Request.Context(), userID, req.Title, req.Invitees)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, convo)
}

type inviteRequest struct {
	Invitees []uuid.UUID `json:"invitees" binding:"required,min=1"`
}

// POST /api/chats/:id/invite
func (h *ChatHandler) Invite(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	convo, err := h.chat.Invite(c.Request.Context(), convoID, userID, req.Invitees)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, convo)
}

// POST /api/chats/:id/accept
func (h *ChatHandler) Accept(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	convo, err := h.chat.AcceptInvite(c.Request.Context(), convoID, userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, convo)
}

// POST /api/chats/:id/decline
func (h *ChatHandler) Decline(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	if err := h.chat.DeclineInvite(c.Request.Context(), convoID, userID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"declined": true})
}

// GET /api/chats
func (h *ChatHandler) List(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	summaries, err := h.chat.ListMyConversations(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GET /api/chats/:id
func (h *ChatHandler) Get(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	convo, err := h.chat.GetConversation(c.Request.Context(), convoID, userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, convo)
}

type sendMessageRequest struct {
	Text        string                    `json:"text"`
	ClientMsgID *string                   `json:"client_msg_id"`
	Attachments []model.MessageAttachment `json:"attachments"`
}

// POST /api/chats/:id/messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), convoID, userID, service.SendMessageInput{
		Text:        req.Text,
		ClientMsgID: req.ClientMsgID,
		Attachments: req.Attachments,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GET /api/chats/:id/messages?before=<rfc3339>&limit=<n>
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	var before *time.Time
	if cursor := c.Query("before"); cursor != "" {
		ts, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid before cursor"))
			return
		}
		before = &ts
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid limit"))
			return
		}
	}

	page, err := h.chat.ListMessages(c.Request.Context(), convoID, userID, before, limit)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/chats/:id/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	convoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid conversation id"))
		return
	}

	if err := h.chat.MarkRead(c.Request.Context(), convoID, userID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// DELETE /api/messages/:id
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid message id"))
		return
	}

	if err := h.chat.DeleteMessageForMe(c.Request.Context(), messageID, userID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
