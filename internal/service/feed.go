package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/metrics"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
)

// FeedService 限时动态、点赞评论与通知
type FeedService struct {
	posts         PostStore
	notifications NotificationStore
	likes         LikeStore
	publisher     Publisher
	blobs         BlobStore
	ids           IDGenerator
	moderators    []string
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewFeedService 创建动态服务，blobs 可以为 nil
func NewFeedService(posts PostStore, notifications NotificationStore, likes LikeStore, publisher Publisher, blobs BlobStore, ids IDGenerator, moderators []string) *FeedService {
	return &FeedService{
		posts:         posts,
		notifications: notifications,
		likes:         likes,
		publisher:     publisher,
		blobs:         blobs,
		ids:           ids,
		moderators:    moderators,
		logger:        slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// PostContent 动态内容
type PostContent struct {
	Text      string `json:"text"`
	MediaRef  string `json:"mediaRef"`
	MediaKind string `json:"mediaKind"`
}

// CommentRequest 评论请求
type CommentRequest struct {
	PostID         string
	AuthorID       string
	AuthorName     string
	Text           string
	ReplyCommentID string
}

// Recipient 评论扇出的一个通知对象
type Recipient struct {
	UID  string
	Kind model.NotificationKind
}

// PlanCommentFanOut 按优先级计算一条评论需要通知的对象
//  1. 被回复评论的作者 -> reply
//  2. 动态作者 -> comment
//  3. 其余历史评论者 -> 评论者是动态作者时 comment_by_owner_on_own_post，否则 comment_by_other_participant
//
// 评论者本人不会被通知，每个对象至多一条
func PlanCommentFanOut(postAuthor string, comment *model.Comment, priorCommenters []string) []Recipient {
	commenter := comment.AuthorID
	notified := map[string]bool{commenter: true}
	out := make([]Recipient, 0, len(priorCommenters)+2)

	add := func(uid string, kind model.NotificationKind) {
		if uid == "" || notified[uid] {
			return
		}
		notified[uid] = true
		out = append(out, Recipient{UID: uid, Kind: kind})
	}

	if comment.ReplyTo != nil {
		add(comment.ReplyTo.AuthorID, model.NotifyReply)
	}
	add(postAuthor, model.NotifyComment)

	priorKind := model.NotifyCommentByOtherParticipant
	if commenter == postAuthor {
		priorKind = model.NotifyCommentByOwnerOnOwnPost
	}
	for _, uid := range priorCommenters {
		add(uid, priorKind)
	}
	return out
}

// CreatePost 发布动态，过期时间在创建时固定为 48 小时后
func (s *FeedService) CreatePost(ctx context.Context, author, authorName string, content PostContent) (*model.Post, error) {
	if strings.TrimSpace(content.Text) == "" && content.MediaRef == "" {
		return nil, apperrors.ErrInvalidParams.WithMessage("动态内容不能为空")
	}

	now := s.now()
	post := &model.Post{
		ID:         s.ids.NextString(),
		AuthorID:   author,
		AuthorName: authorName,
		Text:       content.Text,
		MediaRef:   content.MediaRef,
		MediaKind:  content.MediaKind,
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.EphemeralTTL),
		Likes:      []string{},
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	s.logger.Info("Post created", "postId", post.ID, "author", author)
	return post, nil
}

// CreateMediaPost 上传媒体后发布动态
func (s *FeedService) CreateMediaPost(ctx context.Context, author, authorName, text string, upload MediaUpload) (*model.Post, error) {
	if s.blobs == nil {
		return nil, apperrors.ErrMediaUploadFailed.WithMessage("未配置对象存储")
	}
	ref, err := s.blobs.Upload(ctx, author, upload.FileName, upload.ContentType, upload.Reader)
	if err != nil {
		s.logger.Error("Post media upload failed", "author", author, "error", err)
		if apperrors.Is(err, apperrors.ErrMediaUploadFailed) {
			return nil, err
		}
		return nil, apperrors.ErrMediaUploadFailed.Wrap(err)
	}
	return s.CreatePost(ctx, author, authorName, PostContent{Text: text, MediaRef: ref, MediaKind: string(upload.Kind)})
}

// ToggleLike 点赞/取消点赞，新增点赞且不是作者本人时通知作者
func (s *FeedService) ToggleLike(ctx context.Context, postID, uid, name string) (bool, error) {
	post, err := s.visiblePost(ctx, postID, uid)
	if err != nil {
		return false, err
	}
	liked, err := s.likes.Toggle(ctx, postID, uid)
	if err != nil {
		return false, err
	}

	if liked && uid != post.AuthorID {
		s.notify(ctx, []*model.Notification{s.newNotification(post, uid, name, post.AuthorID, model.NotifyLike, post.Text)})
	}
	return liked, nil
}

// AddComment 评论动态，评论数在同一事务内递增，随后按规则扇出通知
func (s *FeedService) AddComment(ctx context.Context, req CommentRequest) (*model.Comment, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.ErrInvalidParams.WithMessage("评论内容不能为空")
	}
	post, err := s.visiblePost(ctx, req.PostID, req.AuthorID)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		ID:         s.ids.NextString(),
		PostID:     req.PostID,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Text:       req.Text,
		CreatedAt:  s.now(),
	}
	if req.ReplyCommentID != "" {
		parent, err := s.posts.GetComment(ctx, req.PostID, req.ReplyCommentID)
		if err != nil {
			return nil, err
		}
		comment.ReplyTo = &model.CommentRef{
			CommentID:  parent.ID,
			AuthorID:   parent.AuthorID,
			AuthorName: parent.AuthorName,
			Text:       parent.Text,
		}
	}

	prior, err := s.posts.AddComment(ctx, comment)
	if err != nil {
		return nil, err
	}

	recipients := PlanCommentFanOut(post.AuthorID, comment, prior)
	list := make([]*model.Notification, 0, len(recipients))
	for _, r := range recipients {
		list = append(list, s.newNotification(post, req.AuthorID, req.AuthorName, r.UID, r.Kind, comment.Text))
	}
	s.notify(ctx, list)
	return comment, nil
}

// visiblePost 取出 uid 可以互动的动态：过期的不可见，已隐藏的只对管理员可见
func (s *FeedService) visiblePost(ctx context.Context, postID, uid string) (*model.Post, error) {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Expired(s.now()) {
		return nil, apperrors.ErrNotFound
	}
	if post.Archived && !s.isModerator(uid) {
		return nil, apperrors.ErrNotFound
	}
	return post, nil
}

// Hide 管理员隐藏动态，移入归档表
func (s *FeedService) Hide(ctx context.Context, postID, actor string) error {
	if !s.isModerator(actor) {
		return apperrors.ErrNotAuthorized
	}
	if err := s.posts.Archive(ctx, postID, actor, s.now()); err != nil {
		return err
	}
	s.logger.Info("Post hidden", "postId", postID, "actor", actor)
	return nil
}

// Restore 管理员恢复已隐藏的动态
func (s *FeedService) Restore(ctx context.Context, postID, actor string) error {
	if !s.isModerator(actor) {
		return apperrors.ErrNotAuthorized
	}
	if err := s.posts.Restore(ctx, postID); err != nil {
		return err
	}
	s.logger.Info("Post restored", "postId", postID, "actor", actor)
	return nil
}

// DeletePost 作者删除动态及其评论与点赞
func (s *FeedService) DeletePost(ctx context.Context, postID, actor string) error {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != actor {
		return apperrors.ErrNotAuthorized
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return err
	}
	if err := s.likes.DeleteAll(ctx, postID); err != nil {
		s.logger.Warn("Failed to drop like set", "postId", postID, "error", err)
	}
	return nil
}

// ListFeed 未过期且未隐藏的动态
func (s *FeedService) ListFeed(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.posts.ListActive(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return s.attachLikes(ctx, posts)
}

// ListArchive 管理员查看隐藏的动态
func (s *FeedService) ListArchive(ctx context.Context, actor string) ([]*model.Post, error) {
	if !s.isModerator(actor) {
		return nil, apperrors.ErrNotAuthorized
	}
	posts, err := s.posts.ListArchived(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return s.attachLikes(ctx, posts)
}

// ListComments 动态的评论，按时间正序
func (s *FeedService) ListComments(ctx context.Context, postID string) ([]*model.Comment, error) {
	return s.posts.ListComments(ctx, postID)
}

// ListNotifications 未过期的通知，最新的在前
func (s *FeedService) ListNotifications(ctx context.Context, uid string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.notifications.ListForRecipient(ctx, uid, s.now(), limit)
}

// MarkNotificationRead 标记通知已读
func (s *FeedService) MarkNotificationRead(ctx context.Context, uid, notificationID string) error {
	return s.notifications.MarkRead(ctx, uid, notificationID)
}

// PurgeReport 一次过期清理的结果
type PurgeReport struct {
	Posts         int   `json:"posts"`
	Notifications int64 `json:"notifications"`
}

// PurgeExpired 删除已过期的动态（含归档）及其评论、点赞，以及已过期的通知
func (s *FeedService) PurgeExpired(ctx context.Context) (PurgeReport, error) {
	now := s.now()
	var report PurgeReport

	ids, err := s.posts.PurgeExpired(ctx, now)
	if err != nil {
		return report, err
	}
	report.Posts = len(ids)
	if len(ids) > 0 {
		if err := s.likes.DeleteAll(ctx, ids...); err != nil {
			s.logger.Warn("Failed to drop like sets of expired posts", "count", len(ids), "error", err)
		}
	}

	n, err := s.notifications.PurgeExpired(ctx, now)
	if err != nil {
		return report, err
	}
	report.Notifications = n

	metrics.SweepDeleted.WithLabelValues("posts").Add(float64(report.Posts))
	metrics.SweepDeleted.WithLabelValues("notifications").Add(float64(n))
	return report, nil
}

func (s *FeedService) attachLikes(ctx context.Context, posts []*model.Post) ([]*model.Post, error) {
	if len(posts) == 0 {
		return posts, nil
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	likers, err := s.likes.LikersMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		p.Likes = likers[p.ID]
		if p.Likes == nil {
			p.Likes = []string{}
		}
	}
	return posts, nil
}

func (s *FeedService) isModerator(uid string) bool {
	return slices.Contains(s.moderators, uid)
}

func (s *FeedService) newNotification(post *model.Post, sender, senderName, recipient string, kind model.NotificationKind, preview string) *model.Notification {
	now := s.now()
	return &model.Notification{
		ID:          s.newID(),
		RecipientID: recipient,
		SenderID:    sender,
		SenderName:  senderName,
		Kind:        kind,
		PostID:      post.ID,
		PreviewText: preview,
		CreatedAt:   now,
		ExpiresAt:   now.Add(model.EphemeralTTL),
	}
}

// notify 持久化通知后推送事件与推送请求，失败只记录日志
func (s *FeedService) notify(ctx context.Context, list []*model.Notification) {
	if len(list) == 0 {
		return
	}
	if err := s.notifications.InsertBatch(ctx, list); err != nil {
		s.logger.Error("Failed to store notifications", "count", len(list), "error", err)
		return
	}
	for _, n := range list {
		metrics.NotificationsCreated.WithLabelValues(string(n.Kind)).Inc()
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.Publish(&proto.Event{Type: proto.EventNotificationCreated, UserId: n.RecipientID, Notification: n}); err != nil {
			s.logger.Warn("Failed to publish notification", "recipientId", n.RecipientID, "error", err)
		}
		if err := s.publisher.PublishPush(&proto.PushRequest{
			RecipientId: n.RecipientID,
			Title:       n.SenderName,
			Body:        notificationText(n),
			Data:        map[string]string{"type": "notification", "kind": string(n.Kind), "postId": n.PostID},
		}); err != nil {
			s.logger.Warn("Failed to publish push request", "recipientId", n.RecipientID, "error", err)
		}
	}
}

// notificationText 推送正文
func notificationText(n *model.Notification) string {
	switch n.Kind {
	case model.NotifyLike:
		return "liked your status"
	case model.NotifyReply:
		return "replied to your comment: " + n.PreviewText
	case model.NotifyCommentByOwnerOnOwnPost:
		return "also commented on their status: " + n.PreviewText
	case model.NotifyCommentByOtherParticipant:
		return "also commented on a status: " + n.PreviewText
	default:
		return "commented on your status: " + n.PreviewText
	}
}
