package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
	"hudhud.im.sync/internal/task"
)

var errDown = apperrors.ErrStoreUnavailable.Wrap(errors.New("connection refused"))

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NextString() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

func cloneConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.AdminIDs = slices.Clone(c.AdminIDs)
	cp.UnreadCounts = make(map[string]int64, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		cp.UnreadCounts[k] = v
	}
	return &cp
}

// memConvs 内存版会话注册表
type memConvs struct {
	mu        sync.Mutex
	convs     map[string]*model.Conversation
	pairs     map[string]string
	applied   map[string]bool
	failGet   int
	failApply int
}

func newMemConvs() *memConvs {
	return &memConvs{convs: map[string]*model.Conversation{}, pairs: map[string]string{}, applied: map[string]bool{}}
}

func pairKey(a, b string) string {
	a, b = model.DirectPair(a, b)
	return a + "|" + b
}

func (m *memConvs) CreateDirect(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(conv.Participants[0], conv.Participants[1])
	if _, ok := m.pairs[key]; ok {
		return apperrors.ErrAlreadyExists
	}
	m.pairs[key] = conv.ID
	m.convs[conv.ID] = cloneConv(conv)
	return nil
}

func (m *memConvs) FindDirect(_ context.Context, a, b string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pairs[pairKey(a, b)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneConv(m.convs[id]), nil
}

func (m *memConvs) CreateGroup(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = cloneConv(conv)
	return nil
}

func (m *memConvs) Get(_ context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet > 0 {
		m.failGet--
		return nil, errDown
	}
	c, ok := m.convs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneConv(c), nil
}

func (m *memConvs) ApplyMessage(_ context.Context, msg *model.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApply > 0 {
		m.failApply--
		return false, errDown
	}
	key := msg.ConversationID + "/" + msg.ID
	if m.applied[key] {
		return false, nil
	}
	c, ok := m.convs[msg.ConversationID]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	m.applied[key] = true
	c.LastMessagePreview = model.Preview(msg.Body)
	c.LastMessageKind = msg.Kind()
	c.LastSenderID = msg.SenderID
	c.UpdatedAt = msg.CreatedAt
	for _, p := range c.Participants {
		if p != msg.SenderID {
			c.UnreadCounts[p]++
		}
	}
	return true, nil
}

func (m *memConvs) IncrementUnread(_ context.Context, convID, except string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.convs[convID]
	for _, p := range c.Participants {
		if p != except {
			c.UnreadCounts[p]++
		}
	}
	return nil
}

func (m *memConvs) ZeroUnread(_ context.Context, convID, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[convID].UnreadCounts[uid] = 0
	return nil
}

func (m *memConvs) AddMembers(_ context.Context, convID string, uids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.convs[convID]
	for _, u := range uids {
		c.Participants = append(c.Participants, u)
		c.UnreadCounts[u] = 0
	}
	sort.Strings(c.Participants)
	c.UpdatedAt = at
	return nil
}

func (m *memConvs) RemoveMembers(_ context.Context, convID string, uids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.convs[convID]
	c.Participants = slices.DeleteFunc(c.Participants, func(p string) bool { return slices.Contains(uids, p) })
	c.AdminIDs = slices.DeleteFunc(c.AdminIDs, func(p string) bool { return slices.Contains(uids, p) })
	for _, u := range uids {
		delete(c.UnreadCounts, u)
	}
	c.UpdatedAt = at
	return nil
}

func (m *memConvs) UpdateInfo(_ context.Context, convID, name, avatar, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.convs[convID]
	if name != "" {
		c.Name = name
	}
	if avatar != "" {
		c.AvatarRef = avatar
	}
	if description != "" {
		c.Description = description
	}
	return nil
}

func (m *memConvs) Delete(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, conv.ID)
	if conv.Kind == model.ConversationDirect {
		delete(m.pairs, pairKey(conv.Participants[0], conv.Participants[1]))
	}
	return nil
}

func (m *memConvs) ListForUser(_ context.Context, uid string, offset, limit int64) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet > 0 {
		m.failGet--
		return nil, errDown
	}
	out := make([]*model.Conversation, 0)
	for _, c := range m.convs {
		if c.HasParticipant(uid) {
			out = append(out, cloneConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= int64(len(out)) {
		return []*model.Conversation{}, nil
	}
	end := min(offset+limit, int64(len(out)))
	return out[offset:end], nil
}

func (m *memConvs) TotalUnread(_ context.Context, uid string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, c := range m.convs {
		total += c.UnreadCounts[uid]
	}
	return total, nil
}

func (m *memConvs) unread(convID, uid string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[convID].UnreadCounts[uid]
}

// memMessages 内存版消息日志
type memMessages struct {
	mu         sync.Mutex
	msgs       map[string]map[string]*model.Message
	failInsert int
	failList   int
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: map[string]map[string]*model.Message{}}
}

func cloneMsg(m *model.Message) *model.Message {
	cp := *m
	cp.ReadBy = slices.Clone(m.ReadBy)
	return &cp
}

func (m *memMessages) Insert(_ context.Context, msg *model.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert > 0 {
		m.failInsert--
		return false, errDown
	}
	conv := m.msgs[msg.ConversationID]
	if conv == nil {
		conv = map[string]*model.Message{}
		m.msgs[msg.ConversationID] = conv
	}
	if _, ok := conv[msg.ID]; ok {
		return false, nil
	}
	conv[msg.ID] = cloneMsg(msg)
	return true, nil
}

func (m *memMessages) Get(_ context.Context, convID, msgID string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[convID][msgID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneMsg(msg), nil
}

func (m *memMessages) List(_ context.Context, convID string, since *time.Time, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList > 0 {
		m.failList--
		return nil, errDown
	}
	out := make([]*model.Message, 0)
	for _, msg := range m.msgs[convID] {
		if since == nil || msg.CreatedAt.After(*since) {
			out = append(out, cloneMsg(msg))
		}
	}
	model.SortMessages(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) markRead(convID, reader string, match func(*model.Message) bool) []string {
	changed := make([]string, 0)
	for _, msg := range m.msgs[convID] {
		if match(msg) && msg.SenderID != reader && !msg.ReadByContains(reader) {
			msg.ReadBy = append(msg.ReadBy, reader)
			changed = append(changed, msg.ID)
		}
	}
	sort.Strings(changed)
	return changed
}

func (m *memMessages) MarkRead(_ context.Context, convID, reader string, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRead(convID, reader, func(msg *model.Message) bool { return slices.Contains(ids, msg.ID) }), nil
}

func (m *memMessages) MarkAllRead(_ context.Context, convID, reader string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRead(convID, reader, func(*model.Message) bool { return true }), nil
}

func (m *memMessages) UpdateText(_ context.Context, convID, msgID, text string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[convID][msgID]
	if !ok || msg.Kind() != model.KindText {
		return apperrors.ErrNotFound
	}
	msg.Body = model.TextBody{Text: text}
	msg.EditedAt = &editedAt
	return nil
}

func (m *memMessages) Delete(_ context.Context, convID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.msgs[convID][id]; ok {
			delete(m.msgs[convID], id)
			n++
		}
	}
	return n, nil
}

func (m *memMessages) DeleteConversation(_ context.Context, convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.msgs, convID)
	return nil
}

func (m *memMessages) DeleteBySenderBefore(_ context.Context, sender string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, conv := range m.msgs {
		for id, msg := range conv {
			if msg.SenderID == sender && msg.CreatedAt.Before(cutoff) {
				delete(conv, id)
				n++
			}
		}
	}
	return n, nil
}

func (m *memMessages) count(convID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs[convID])
}

// recorder 记录发布的事件与推送请求
type recorder struct {
	mu     sync.Mutex
	events []*proto.Event
	pushes []*proto.PushRequest
}

func (r *recorder) Publish(e *proto.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) PublishPush(p *proto.PushRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, p)
	return nil
}

func (r *recorder) ofType(t proto.EventType) []*proto.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*proto.Event, 0)
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

// manualScheduler 记录任务，由测试手动驱动执行
type manualScheduler struct {
	tasks []*task.Task
}

func (s *manualScheduler) AddTask(t *task.Task) error {
	s.tasks = append(s.tasks, t)
	return nil
}

// drain 模拟调度器：失败时按次数重试，耗尽后回调
func (s *manualScheduler) drain(ctx context.Context) {
	for len(s.tasks) > 0 {
		t := s.tasks[0]
		s.tasks = s.tasks[1:]
		for {
			err := t.Execute(ctx)
			if err == nil {
				break
			}
			if !t.CanRetry() {
				if t.OnGiveUp != nil {
					t.OnGiveUp(err)
				}
				break
			}
			t.Attempt++
		}
	}
}

// memBlobs 内存对象存储
type memBlobs struct {
	objects map[string][]byte
	fail    bool
}

func (b *memBlobs) Upload(_ context.Context, owner, name, _ string, r io.Reader) (string, error) {
	if b.fail {
		return "", errors.New("bucket unreachable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	ref := "media/" + owner + "/" + name
	b.objects[ref] = data
	return ref, nil
}

// memPosts 内存动态存储
type memPosts struct {
	mu       sync.Mutex
	posts    map[string]*model.Post
	archived map[string]*model.Post
	comments map[string][]*model.Comment
}

func newMemPosts() *memPosts {
	return &memPosts{posts: map[string]*model.Post{}, archived: map[string]*model.Post{}, comments: map[string][]*model.Comment{}}
}

func (m *memPosts) Create(_ context.Context, p *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *memPosts) Get(_ context.Context, id string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[id]; ok {
		cp := *p
		return &cp, nil
	}
	if p, ok := m.archived[id]; ok {
		cp := *p
		cp.Archived = true
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *memPosts) list(src map[string]*model.Post, now time.Time) []*model.Post {
	out := make([]*model.Post, 0)
	for _, p := range src {
		if !p.Expired(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memPosts) ListActive(_ context.Context, now time.Time) ([]*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(m.posts, now), nil
}

func (m *memPosts) ListArchived(_ context.Context, now time.Time) ([]*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(m.archived, now), nil
}

func (m *memPosts) Archive(_ context.Context, id, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(m.posts, id)
	m.archived[id] = p
	return nil
}

func (m *memPosts) Restore(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.archived[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(m.archived, id)
	m.posts[id] = p
	return nil
}

func (m *memPosts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	delete(m.archived, id)
	delete(m.comments, id)
	return nil
}

func (m *memPosts) AddComment(_ context.Context, c *model.Comment) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[c.PostID]
	if !ok {
		if p, ok = m.archived[c.PostID]; !ok {
			return nil, apperrors.ErrNotFound
		}
	}
	prior := make([]string, 0)
	for _, existing := range m.comments[c.PostID] {
		if !slices.Contains(prior, existing.AuthorID) {
			prior = append(prior, existing.AuthorID)
		}
	}
	cp := *c
	m.comments[c.PostID] = append(m.comments[c.PostID], &cp)
	p.CommentCount++
	return prior, nil
}

func (m *memPosts) GetComment(_ context.Context, postID, commentID string) (*model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments[postID] {
		if c.ID == commentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memPosts) ListComments(_ context.Context, postID string) ([]*model.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.comments[postID]), nil
}

func (m *memPosts) PurgeExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, src := range []map[string]*model.Post{m.posts, m.archived} {
		for id, p := range src {
			if p.Expired(now) {
				delete(src, id)
				delete(m.comments, id)
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// memNotifications 内存通知存储
type memNotifications struct {
	mu   sync.Mutex
	list []*model.Notification
}

func (m *memNotifications) InsertBatch(_ context.Context, list []*model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, list...)
	return nil
}

func (m *memNotifications) ListForRecipient(_ context.Context, uid string, now time.Time, limit int) ([]*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Notification, 0)
	for i := len(m.list) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.list[i]
		if n.RecipientID == uid && n.ExpiresAt.After(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotifications) MarkRead(_ context.Context, uid, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.list {
		if n.ID == id && n.RecipientID == uid {
			n.Read = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *memNotifications) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.list)
	m.list = slices.DeleteFunc(m.list, func(n *model.Notification) bool { return !n.ExpiresAt.After(now) })
	return int64(before - len(m.list)), nil
}

func (m *memNotifications) forRecipient(uid string) []*model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Notification, 0)
	for _, n := range m.list {
		if n.RecipientID == uid {
			out = append(out, n)
		}
	}
	return out
}

// memLikes 内存点赞集合
type memLikes struct {
	mu    sync.Mutex
	likes map[string][]string
}

func newMemLikes() *memLikes { return &memLikes{likes: map[string][]string{}} }

func (m *memLikes) Toggle(_ context.Context, postID, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.likes[postID], uid) {
		m.likes[postID] = slices.DeleteFunc(m.likes[postID], func(u string) bool { return u == uid })
		return false, nil
	}
	m.likes[postID] = append(m.likes[postID], uid)
	return true, nil
}

func (m *memLikes) Likers(_ context.Context, postID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.likes[postID]), nil
}

func (m *memLikes) LikersMany(_ context.Context, ids []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = slices.Clone(m.likes[id])
	}
	return out, nil
}

func (m *memLikes) DeleteAll(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.likes, id)
	}
	return nil
}

// memPresence 内存在线状态
type memPresence struct {
	online map[string]bool
}

func (m *memPresence) SetOnline(_ context.Context, uid string) error {
	m.online[uid] = true
	return nil
}

func (m *memPresence) SetOffline(_ context.Context, uid string) error {
	delete(m.online, uid)
	return nil
}

func (m *memPresence) IsOnline(_ context.Context, uid string) (bool, error) {
	return m.online[uid], nil
}

// memSettings 内存设置存储
type memSettings struct {
	saved map[string]model.Settings
	saves int
}

func (m *memSettings) Load(_ context.Context, uid string) (model.Settings, bool, error) {
	s, ok := m.saved[uid]
	return s, ok, nil
}

func (m *memSettings) Save(_ context.Context, uid string, s model.Settings) error {
	m.saved[uid] = s
	m.saves++
	return nil
}

// memCache 内存快照缓存
type memCache struct {
	mu    sync.Mutex
	convs map[string][]*model.Conversation
	msgs  map[string][]*model.Message
}

func newMemCache() *memCache {
	return &memCache{convs: map[string][]*model.Conversation{}, msgs: map[string][]*model.Message{}}
}

var errCacheMiss = errors.New("cache miss")

func (c *memCache) PutConversations(uid string, convs []*model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convs[uid] = convs
	return nil
}

func (c *memCache) Conversations(uid string) ([]*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	convs, ok := c.convs[uid]
	if !ok {
		return nil, errCacheMiss
	}
	return convs, nil
}

func (c *memCache) PutMessages(convID string, msgs []*model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[convID] = msgs
	return nil
}

func (c *memCache) Messages(convID string) ([]*model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.msgs[convID]
	if !ok {
		return nil, errCacheMiss
	}
	return msgs, nil
}

func (c *memCache) MergeMessages(convID string, msgs ...*model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[convID] = model.MergeMessages(c.msgs[convID], msgs...)
	return nil
}

func (c *memCache) RemoveMessages(convID string, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[convID] = model.RemoveMessages(c.msgs[convID], ids...)
	return nil
}

func (c *memCache) DeleteConversation(convID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.msgs, convID)
	return nil
}
