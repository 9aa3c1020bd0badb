package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/metrics"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
	"hudhud.im.sync/internal/readstate"
	"hudhud.im.sync/internal/task"
)

const discardTimeout = 5 * time.Second

// MessageService 消息日志与收发协议
type MessageService struct {
	convs         ConversationStore
	messages      MessageStore
	conversations *ConversationService
	publisher     Publisher
	blobs         BlobStore
	cache         SnapshotCache
	retry         RetryScheduler
	tracker       *readstate.Tracker
	ids           IDGenerator
	maxAttempts   int
	logger        *slog.Logger
	now           func() time.Time
}

// MessageServiceDeps 消息服务依赖，Blobs/Cache/Retry/Presence 可以为 nil
type MessageServiceDeps struct {
	Convs         ConversationStore
	Messages      MessageStore
	Conversations *ConversationService
	Publisher     Publisher
	Blobs         BlobStore
	Cache         SnapshotCache
	Retry         RetryScheduler
	Presence      readstate.PresenceStore
	IDs           IDGenerator
	MaxAttempts   int
}

// NewMessageService 创建消息服务
func NewMessageService(deps MessageServiceDeps) *MessageService {
	if deps.MaxAttempts < 1 {
		deps.MaxAttempts = 1
	}
	return &MessageService{
		convs:         deps.Convs,
		messages:      deps.Messages,
		conversations: deps.Conversations,
		publisher:     deps.Publisher,
		blobs:         deps.Blobs,
		cache:         deps.Cache,
		retry:         deps.Retry,
		tracker:       readstate.NewTracker(deps.Presence),
		ids:           deps.IDs,
		maxAttempts:   deps.MaxAttempts,
		logger:        slog.Default(),
		now:           time.Now,
	}
}

// SendRequest 发送请求
type SendRequest struct {
	ConversationID string
	SenderID       string
	ClientMsgID    string // 客户端生成的消息ID，同时作为幂等键
	Body           model.Body
	ReplyToID      string
	RequestID      string
}

// SendResult 发送结果
// Pending 表示存储暂时不可用，已安排按消息ID退避重试
type SendResult struct {
	Message   *model.Message `json:"message"`
	Pending   bool           `json:"pending"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// MediaUpload 待上传的媒体
type MediaUpload struct {
	Kind        model.MessageKind
	FileName    string
	ContentType string
	Size        int64
	Duration    time.Duration
	Caption     string
	Reader      io.Reader
}

// outgoing 一次发送在重试之间共享的状态
// inserted 记录消息行是否由本次发送写入，只有这种行才会在失败时撤回
type outgoing struct {
	msg       *model.Message
	replyToID string
	requestID string
	inserted  bool
}

// Send 发送消息
// 追加消息、更新预览、递增其他参与者未读数，三者按消息ID幂等
func (s *MessageService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	start := s.now()
	defer metrics.ObserveSince(metrics.SendDuration, start)

	if req.Body == nil {
		return nil, apperrors.ErrInvalidParams.WithMessage("消息内容不能为空")
	}
	if err := req.Body.Validate(); err != nil {
		metrics.MessagesSent.WithLabelValues(string(req.Body.Kind()), "rejected").Inc()
		return nil, apperrors.ErrInvalidParams.Wrap(err)
	}

	id := req.ClientMsgID
	if id == "" {
		id = s.ids.NextString()
	}
	out := &outgoing{
		msg: &model.Message{
			ID:             id,
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Body:           req.Body,
			CreatedAt:      start,
			ReadBy:         []string{},
		},
		replyToID: req.ReplyToID,
		requestID: req.RequestID,
	}
	kind := string(req.Body.Kind())

	applied, err := s.deliver(ctx, out)
	if err == nil {
		result := "ok"
		if !applied {
			result = "duplicate"
		}
		metrics.MessagesSent.WithLabelValues(kind, result).Inc()
		return &SendResult{Message: out.msg, Duplicate: !applied}, nil
	}
	if !apperrors.IsRetryable(err) || s.retry == nil {
		metrics.MessagesSent.WithLabelValues(kind, "rejected").Inc()
		s.discard(ctx, out)
		return nil, err
	}

	if schedErr := s.scheduleRetry(out); schedErr != nil {
		s.logger.Error("Failed to schedule send retry", "messageId", id, "error", schedErr)
		s.discard(ctx, out)
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(kind, "pending").Inc()
	s.logger.Warn("Send deferred", "conversationId", req.ConversationID, "messageId", id, "error", err)
	s.publish(&proto.Event{
		Type:           proto.EventMessagePending,
		UserId:         req.SenderID,
		ConversationId: req.ConversationID,
		Message:        out.msg,
		RequestId:      req.RequestID,
	})
	return &SendResult{Message: out.msg, Pending: true}, nil
}

// SendMedia 先上传媒体再发送，上传失败不会留下悬空引用
func (s *MessageService) SendMedia(ctx context.Context, req SendRequest, upload MediaUpload) (*SendResult, error) {
	if s.blobs == nil {
		return nil, apperrors.ErrMediaUploadFailed.WithMessage("未配置对象存储")
	}
	if upload.Reader == nil {
		return nil, apperrors.ErrInvalidParams.WithMessage("缺少媒体内容")
	}
	if _, err := s.Get(ctx, req.ConversationID, req.SenderID); err != nil {
		return nil, err
	}

	ref, err := s.blobs.Upload(ctx, req.SenderID, upload.FileName, upload.ContentType, upload.Reader)
	if err != nil {
		s.logger.Error("Media upload failed", "conversationId", req.ConversationID, "sender", req.SenderID, "error", err)
		if apperrors.Is(err, apperrors.ErrMediaUploadFailed) {
			return nil, err
		}
		return nil, apperrors.ErrMediaUploadFailed.Wrap(err)
	}

	switch upload.Kind {
	case model.KindImage:
		req.Body = model.ImageBody{Ref: ref, FileName: upload.FileName, Size: upload.Size, MimeType: upload.ContentType, Caption: upload.Caption}
	case model.KindAudio:
		req.Body = model.AudioBody{Ref: ref, Duration: upload.Duration, MimeType: upload.ContentType}
	case model.KindDocument:
		req.Body = model.DocumentBody{Ref: ref, FileName: upload.FileName, Size: upload.Size, MimeType: upload.ContentType}
	default:
		return nil, apperrors.ErrInvalidParams.WithMessage("不支持的媒体类型")
	}
	return s.Send(ctx, req)
}

// CreateDirectAndSend 两人之间的第一条消息：没有私聊时先创建
func (s *MessageService) CreateDirectAndSend(ctx context.Context, sender, recipient string, body model.Body, clientMsgID string) (*SendResult, error) {
	conv, err := s.conversations.FindOrCreateDirect(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, SendRequest{
		ConversationID: conv.ID,
		SenderID:       sender,
		ClientMsgID:    clientMsgID,
		Body:           body,
	})
}

// deliver 执行一次发送，返回本次是否首次生效
func (s *MessageService) deliver(ctx context.Context, out *outgoing) (bool, error) {
	msg := out.msg
	conv, err := s.convs.Get(ctx, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if !conv.HasParticipant(msg.SenderID) {
		return false, apperrors.ErrNotAParticipant
	}

	if out.replyToID != "" && msg.ReplyTo == nil {
		replied, err := s.messages.Get(ctx, msg.ConversationID, out.replyToID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return false, apperrors.ErrInvalidParams.WithMessage("回复的消息不存在")
			}
			return false, err
		}
		msg.ReplyTo = &model.ReplyTo{
			MessageID:  replied.ID,
			SenderName: replied.SenderID,
			Preview:    model.Preview(replied.Body),
			Kind:       replied.Kind(),
		}
	}

	inserted, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return false, err
	}
	if inserted {
		out.inserted = true
	}
	applied, err := s.convs.ApplyMessage(ctx, msg)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if fresh, err := s.convs.Get(ctx, msg.ConversationID); err == nil {
		conv = fresh
	} else {
		s.logger.Warn("Failed to reload conversation after send", "conversationId", msg.ConversationID, "error", err)
	}
	s.fanOut(conv, msg)
	return true, nil
}

// fanOut 向全部参与者推送新消息，并为其他参与者发出未读数与推送请求
func (s *MessageService) fanOut(conv *model.Conversation, msg *model.Message) {
	if s.cache != nil {
		if err := s.cache.MergeMessages(msg.ConversationID, msg); err != nil {
			s.logger.Warn("Failed to merge message into cache", "conversationId", msg.ConversationID, "error", err)
		}
	}

	title := conv.Name
	if title == "" {
		title = msg.SenderID
	}
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventMessageCreated, UserId: p, ConversationId: conv.ID, Message: msg})
		if p == msg.SenderID {
			continue
		}
		// 发出消息即结束输入状态
		s.publish(typingEvent(p, conv.ID, msg.SenderID, false))
		unread := conv.UnreadFor(p)
		s.publish(&proto.Event{Type: proto.EventUnreadUpdated, UserId: p, ConversationId: conv.ID, UnreadCount: &unread})
		s.publishPush(&proto.PushRequest{
			RecipientId: p,
			Title:       title,
			Body:        model.Preview(msg.Body),
			Data: map[string]string{
				"type":           "message",
				"conversationId": conv.ID,
				"messageId":      msg.ID,
			},
		})
	}
}

// scheduleRetry 以消息ID为键安排退避重试
func (s *MessageService) scheduleRetry(out *outgoing) error {
	t := task.NewTask(out.msg.ID, task.Backoff(1), func(ctx context.Context, attempt int) error {
		metrics.SendRetries.Inc()
		applied, err := s.deliver(ctx, out)
		if err == nil {
			s.logger.Info("Deferred send delivered", "messageId", out.msg.ID, "attempt", attempt, "applied", applied)
			return nil
		}
		if !apperrors.IsRetryable(err) {
			s.fail(out, err)
			return nil
		}
		return err
	}).WithRetry(s.maxAttempts, func(lastErr error) {
		s.fail(out, lastErr)
	})
	return s.retry.AddTask(t)
}

// fail 最终失败：撤回已写入的消息行，再通知发送者回滚乐观显示
func (s *MessageService) fail(out *outgoing, err error) {
	metrics.MessagesSent.WithLabelValues(string(out.msg.Kind()), "failed").Inc()
	s.logger.Error("Send failed permanently", "conversationId", out.msg.ConversationID, "messageId", out.msg.ID, "error", err)

	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	s.discard(ctx, out)
	s.publish(&proto.Event{
		Type:           proto.EventMessageFailed,
		UserId:         out.msg.SenderID,
		ConversationId: out.msg.ConversationID,
		MessageIds:     []string{out.msg.ID},
		RequestId:      out.requestID,
		ErrorCode:      apperrors.GetCode(err),
		ErrorMessage:   apperrors.GetMessage(err),
	})
}

// discard 撤回注册表从未确认的消息行，避免日志里留下孤立消息
func (s *MessageService) discard(ctx context.Context, out *outgoing) {
	if !out.inserted {
		return
	}
	convID, id := out.msg.ConversationID, out.msg.ID
	if _, err := s.messages.Delete(ctx, convID, []string{id}); err != nil {
		s.logger.Error("Failed to discard unapplied message", "conversationId", convID, "messageId", id, "error", err)
		return
	}
	out.inserted = false
	if s.cache != nil {
		if err := s.cache.RemoveMessages(convID, id); err != nil {
			s.logger.Warn("Failed to remove discarded message from cache", "conversationId", convID, "error", err)
		}
	}
	s.logger.Info("Discarded unapplied message", "conversationId", convID, "messageId", id)
}

// SetTyping 广播输入状态给会话中的其他参与者，不落存储
func (s *MessageService) SetTyping(ctx context.Context, convID, uid string, typing bool) error {
	conv, err := s.Get(ctx, convID, uid)
	if err != nil {
		return err
	}
	for _, p := range conv.Participants {
		if p != uid {
			s.publish(typingEvent(p, convID, uid, typing))
		}
	}
	return nil
}

func typingEvent(recipient, convID, uid string, typing bool) *proto.Event {
	return &proto.Event{
		Type:           proto.EventTypingUpdated,
		UserId:         recipient,
		ConversationId: convID,
		Typing:         &proto.TypingState{UserId: uid, Typing: typing},
	}
}

// MarkObserved 消息进入可视区域：把 reader 并入已读集合，不改变未读计数
func (s *MessageService) MarkObserved(ctx context.Context, convID, reader string, msgIDs []string) ([]string, error) {
	conv, err := s.Get(ctx, convID, reader)
	if err != nil {
		return nil, err
	}
	if len(msgIDs) == 0 {
		return []string{}, nil
	}
	changed, err := s.messages.MarkRead(ctx, convID, reader, msgIDs)
	if err != nil {
		return nil, err
	}
	s.cacheRead(convID, reader, changed)
	s.publishRead(conv, reader, changed)
	return changed, nil
}

// Open 显式打开会话：清零未读并把全部未读消息标记为已读
func (s *MessageService) Open(ctx context.Context, convID, reader string) ([]string, error) {
	conv, err := s.Get(ctx, convID, reader)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.ZeroUnread(ctx, convID, reader); err != nil {
		return nil, err
	}
	changed, err := s.messages.MarkAllRead(ctx, convID, reader)
	if err != nil {
		return nil, err
	}
	s.cacheRead(convID, reader, changed)
	s.publishRead(conv, reader, changed)
	return changed, nil
}

// cacheRead 把新的已读者并入快照中的消息，快照里没有的消息忽略
func (s *MessageService) cacheRead(convID, reader string, ids []string) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	cached, err := s.cache.Messages(convID)
	if err != nil {
		return
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	updated := make([]*model.Message, 0, len(ids))
	for _, m := range cached {
		if want[m.ID] && !m.ReadByContains(reader) {
			cp := *m
			cp.ReadBy = append(slices.Clone(m.ReadBy), reader)
			updated = append(updated, &cp)
		}
	}
	if len(updated) == 0 {
		return
	}
	if err := s.cache.MergeMessages(convID, updated...); err != nil {
		s.logger.Warn("Failed to merge read state into cache", "conversationId", convID, "error", err)
	}
}

func (s *MessageService) publishRead(conv *model.Conversation, reader string, ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventMessageRead, UserId: p, ConversationId: conv.ID, MessageIds: ids, ReaderId: reader})
	}
}

// Edit 发送者修改自己的文本消息
func (s *MessageService) Edit(ctx context.Context, convID, msgID, actor, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.ErrInvalidParams.WithMessage("消息内容不能为空")
	}
	conv, err := s.Get(ctx, convID, actor)
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.Get(ctx, convID, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor {
		return nil, apperrors.ErrNotAuthorized
	}
	if msg.Kind() != model.KindText {
		return nil, apperrors.ErrInvalidParams.WithMessage("只能编辑文本消息")
	}

	editedAt := s.now()
	if err := s.messages.UpdateText(ctx, convID, msgID, text, editedAt); err != nil {
		return nil, err
	}
	msg.Body = model.TextBody{Text: text}
	msg.EditedAt = &editedAt

	if s.cache != nil {
		if err := s.cache.MergeMessages(convID, msg); err != nil {
			s.logger.Warn("Failed to merge edit into cache", "conversationId", convID, "error", err)
		}
	}
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventMessageEdited, UserId: p, ConversationId: convID, Message: msg})
	}
	return msg, nil
}

// Delete 删除单条消息
func (s *MessageService) Delete(ctx context.Context, convID, msgID, actor string) error {
	_, err := s.BulkDelete(ctx, convID, actor, []string{msgID})
	return err
}

// BulkDelete 一次批量删除，发送者可删自己的消息，群管理员可删任意消息
func (s *MessageService) BulkDelete(ctx context.Context, convID, actor string, msgIDs []string) (int64, error) {
	msgIDs = uniqueIDs(msgIDs)
	if len(msgIDs) == 0 {
		return 0, apperrors.ErrInvalidParams
	}
	conv, err := s.Get(ctx, convID, actor)
	if err != nil {
		return 0, err
	}

	if !conv.IsAdmin(actor) {
		for _, id := range msgIDs {
			msg, err := s.messages.Get(ctx, convID, id)
			if err != nil {
				return 0, err
			}
			if msg.SenderID != actor {
				return 0, apperrors.ErrNotAuthorized
			}
		}
	}

	n, err := s.messages.Delete(ctx, convID, msgIDs)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.RemoveMessages(convID, msgIDs...); err != nil {
			s.logger.Warn("Failed to remove messages from cache", "conversationId", convID, "error", err)
		}
	}
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventMessageDeleted, UserId: p, ConversationId: convID, MessageIds: msgIDs})
	}
	s.logger.Info("Messages deleted", "conversationId", convID, "actor", actor, "count", n)
	return n, nil
}

// Timeline 会话时间线及发送者视角的勾选状态
type Timeline struct {
	Messages []*model.Message          `json:"messages"`
	Ticks    map[string]readstate.Tick `json:"ticks"`
	Stale    bool                      `json:"stale,omitempty"`
}

// List 按 (createdAt, id) 排序的消息列表，存储不可用时退回本地快照
func (s *MessageService) List(ctx context.Context, convID, reader string, since *time.Time, limit int) (*Timeline, error) {
	if limit <= 0 {
		limit = 100
	}
	conv, err := s.Get(ctx, convID, reader)
	if err != nil {
		if apperrors.IsRetryable(err) && s.cachedMember(convID, reader) {
			if tl := s.fallbackTimeline(convID, err); tl != nil {
				return tl, nil
			}
		}
		return nil, err
	}

	msgs, err := s.messages.List(ctx, convID, since, limit)
	if err != nil {
		if tl := s.fallbackTimeline(convID, err); tl != nil {
			return tl, nil
		}
		return nil, err
	}
	model.SortMessages(msgs)

	if s.cache != nil && since == nil {
		if err := s.cache.PutMessages(convID, msgs); err != nil {
			s.logger.Warn("Failed to cache timeline", "conversationId", convID, "error", err)
		}
	}
	return &Timeline{Messages: msgs, Ticks: s.tracker.Ticks(ctx, conv, reader, msgs)}, nil
}

// cachedMember 注册表不可用时，用快照中的会话列表确认参与者身份
func (s *MessageService) cachedMember(convID, uid string) bool {
	if s.cache == nil {
		return false
	}
	convs, err := s.cache.Conversations(uid)
	if err != nil {
		return false
	}
	for _, c := range convs {
		if c.ID == convID {
			return c.HasParticipant(uid)
		}
	}
	return false
}

func (s *MessageService) fallbackTimeline(convID string, err error) *Timeline {
	if s.cache == nil || !apperrors.IsRetryable(err) {
		return nil
	}
	cached, cacheErr := s.cache.Messages(convID)
	if cacheErr != nil {
		return nil
	}
	metrics.CacheFallbacks.WithLabelValues("messages").Inc()
	s.logger.Warn("Serving cached timeline", "conversationId", convID, "error", err)
	return &Timeline{Messages: cached, Ticks: map[string]readstate.Tick{}, Stale: true}
}

// Get 获取会话并校验参与者身份
func (s *MessageService) Get(ctx context.Context, convID, uid string) (*model.Conversation, error) {
	conv, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(uid) {
		return nil, apperrors.ErrNotAParticipant
	}
	return conv, nil
}

// Receipts 发送者查看自己消息的已读回执
func (s *MessageService) Receipts(ctx context.Context, convID, msgID, viewer string) (readstate.Receipt, error) {
	conv, err := s.Get(ctx, convID, viewer)
	if err != nil {
		return readstate.Receipt{}, err
	}
	msg, err := s.messages.Get(ctx, convID, msgID)
	if err != nil {
		return readstate.Receipt{}, err
	}
	if msg.SenderID != viewer {
		return readstate.Receipt{}, apperrors.ErrNotAuthorized
	}
	return readstate.Aggregate(msg, conv.Participants), nil
}

// PurgeSenderMessagesOlderThan 删除 sender 自己早于 cutoff 的消息
func (s *MessageService) PurgeSenderMessagesOlderThan(ctx context.Context, sender string, cutoff time.Time) (int64, error) {
	n, err := s.messages.DeleteBySenderBefore(ctx, sender, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SweepDeleted.WithLabelValues("messages").Add(float64(n))
		s.logger.Info("Purged old messages", "sender", sender, "cutoff", cutoff, "count", n)
	}
	return n, nil
}

func (s *MessageService) publish(event *proto.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Warn("Failed to publish event", "type", event.Type, "userId", event.UserId, "error", err)
	}
}

func (s *MessageService) publishPush(req *proto.PushRequest) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPush(req); err != nil {
		s.logger.Warn("Failed to publish push request", "recipientId", req.RecipientId, "error", err)
	}
}
