package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/internal/service"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"github.com/phyoewaiaung/devnexus-api/pkg/response"
	"github.com/phyoewaiaung/devnexus-api/pkg/validator"
)

type PostHandler struct {
	posts service.PostService
}

func NewPostHandler(posts service.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

type createPostRequest struct {
	Content string `json:"content" binding:"required"`
}

// POST /api/posts
func (h *PostHandler) Create(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	post, err := h.posts.Create(c.Request.Context(), userID, req.Content)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// GET /api/posts/:id
func (h *PostHandler) Get(c *gin.Context) {
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid post id"))
		return
	}

	post, err := h.posts.Get(c.Request.Context(), postID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type createCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// POST /api/posts/:id/comments
func (h *PostHandler) Comment(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid post id"))
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	comment, err := h.posts.Comment(c.Request.Context(), postID, userID, req.Content)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// POST /api/posts/:id/like
func (h *PostHandler) Like(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid post id"))
		return
	}

	if err := h.posts.Like(c.Request.Context(), postID, userID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": true})
}

// DELETE /api/posts/:id/like
func (h *PostHandler) Unlike(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	postID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ResponseError(c, apperror.Wrap(apperror.ErrBadRequest, "invalid post id"))
		return
	}

	if err := h.posts.Unlike(c.Request.Context(), postID, userID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": false})
}
