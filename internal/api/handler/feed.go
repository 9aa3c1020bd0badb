package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/api/middleware"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/service"
	"hudhud.im.sync/pkg/response"
)

// Feed 限时动态，*service.FeedService 满足该接口
type Feed interface {
	CreatePost(ctx context.Context, author, authorName string, content service.PostContent) (*model.Post, error)
	CreateMediaPost(ctx context.Context, author, authorName, text string, upload service.MediaUpload) (*model.Post, error)
	ToggleLike(ctx context.Context, postID, uid, name string) (bool, error)
	AddComment(ctx context.Context, req service.CommentRequest) (*model.Comment, error)
	Hide(ctx context.Context, postID, actor string) error
	Restore(ctx context.Context, postID, actor string) error
	DeletePost(ctx context.Context, postID, actor string) error
	ListFeed(ctx context.Context) ([]*model.Post, error)
	ListArchive(ctx context.Context, actor string) ([]*model.Post, error)
	ListComments(ctx context.Context, postID string) ([]*model.Comment, error)
	ListNotifications(ctx context.Context, uid string, limit int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, uid, notificationID string) error
}

// FeedHandler 动态与通知处理器
type FeedHandler struct {
	feed Feed
}

// NewFeedHandler 创建动态处理器
func NewFeedHandler(feed Feed) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// CreatePostRequest 发布动态请求
type CreatePostRequest struct {
	AuthorName string `json:"authorName"`
	service.PostContent
}

// LikeRequest 点赞请求，Name 用于通知文案
type LikeRequest struct {
	Name string `json:"name"`
}

// CommentRequest 评论请求
type CommentRequest struct {
	AuthorName     string `json:"authorName"`
	Text           string `json:"text" binding:"required"`
	ReplyCommentID string `json:"replyCommentId"`
}

// displayName 未提供显示名时退回参与者ID
func displayName(name, uid string) string {
	if name == "" {
		return uid
	}
	return name
}

// ListFeed 未过期且未隐藏的动态
// GET /api/v1/feed
func (h *FeedHandler) ListFeed(c *gin.Context) {
	posts, err := h.feed.ListFeed(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": posts})
}

// ListArchive 被隐藏的动态，仅管理员
// GET /api/v1/feed/archive
func (h *FeedHandler) ListArchive(c *gin.Context) {
	posts, err := h.feed.ListArchive(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": posts})
}

// CreatePost 发布动态
// POST /api/v1/feed
func (h *FeedHandler) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	uid := middleware.GetUserID(c)
	post, err := h.feed.CreatePost(c.Request.Context(), uid, displayName(req.AuthorName, uid), req.PostContent)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, post)
}

// CreateMediaPost 上传媒体并发布动态
// POST /api/v1/feed/media (multipart: file, kind, text, authorName)
func (h *FeedHandler) CreateMediaPost(c *gin.Context) {
	upload, closeFn, err := readUpload(c)
	if err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	defer closeFn()

	uid := middleware.GetUserID(c)
	post, err := h.feed.CreateMediaPost(c.Request.Context(), uid, displayName(c.PostForm("authorName"), uid), c.PostForm("text"), upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, post)
}

// ToggleLike 点赞/取消点赞
// POST /api/v1/feed/:postId/like
func (h *FeedHandler) ToggleLike(c *gin.Context) {
	var req LikeRequest
	// 请求体可省略
	_ = c.ShouldBindJSON(&req)

	uid := middleware.GetUserID(c)
	liked, err := h.feed.ToggleLike(c.Request.Context(), c.Param("postId"), uid, displayName(req.Name, uid))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"liked": liked})
}

// ListComments 评论列表
// GET /api/v1/feed/:postId/comments
func (h *FeedHandler) ListComments(c *gin.Context) {
	comments, err := h.feed.ListComments(c.Request.Context(), c.Param("postId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": comments})
}

// AddComment 评论或回复评论
// POST /api/v1/feed/:postId/comments
func (h *FeedHandler) AddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	uid := middleware.GetUserID(c)
	comment, err := h.feed.AddComment(c.Request.Context(), service.CommentRequest{
		PostID:         c.Param("postId"),
		AuthorID:       uid,
		AuthorName:     displayName(req.AuthorName, uid),
		Text:           req.Text,
		ReplyCommentID: req.ReplyCommentID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, comment)
}

// Hide 隐藏动态
// POST /api/v1/feed/:postId/hide
func (h *FeedHandler) Hide(c *gin.Context) {
	if err := h.feed.Hide(c.Request.Context(), c.Param("postId"), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Restore 恢复被隐藏的动态
// POST /api/v1/feed/:postId/restore
func (h *FeedHandler) Restore(c *gin.Context) {
	if err := h.feed.Restore(c.Request.Context(), c.Param("postId"), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Delete 作者删除动态
// DELETE /api/v1/feed/:postId
func (h *FeedHandler) Delete(c *gin.Context) {
	if err := h.feed.DeletePost(c.Request.Context(), c.Param("postId"), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListNotifications 未过期通知，新的在前
// GET /api/v1/notifications?limit=50
func (h *FeedHandler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.feed.ListNotifications(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// MarkNotificationRead 标记通知已读
// POST /api/v1/notifications/:id/read
func (h *FeedHandler) MarkNotificationRead(c *gin.Context) {
	if err := h.feed.MarkNotificationRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
