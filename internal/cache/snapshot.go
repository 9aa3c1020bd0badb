package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"

	"hudhud.im.sync/internal/model"
)

// ErrMiss 快照不存在
var ErrMiss = errors.New("snapshot not cached")

// maxTimelineLen 每个会话保留的最新消息条数
const maxTimelineLen = 500

// Snapshot 最近一次成功读取的会话列表与消息时间线（基于 Pebble）
type Snapshot struct {
	db     *pebble.DB
	mu     sync.Mutex // 串行化时间线的读-合并-写
	logger *slog.Logger
}

// Open 打开本地快照库，opts 为 nil 时使用默认配置
func Open(dir string, opts *pebble.Options) (*Snapshot, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}
	return &Snapshot{db: db, logger: slog.Default()}, nil
}

// Close 关闭快照库
func (s *Snapshot) Close() error {
	return s.db.Close()
}

func conversationsKey(uid string) []byte {
	return []byte("convs:" + uid)
}

func timelineKey(convID string) []byte {
	return []byte("timeline:" + convID)
}

// PutConversations 保存参与者的会话列表
func (s *Snapshot) PutConversations(uid string, convs []*model.Conversation) error {
	return s.put(conversationsKey(uid), convs)
}

// Conversations 读取参与者的会话列表
func (s *Snapshot) Conversations(uid string) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	if err := s.get(conversationsKey(uid), &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// PutMessages 用最新读取结果替换时间线
func (s *Snapshot) PutMessages(convID string, msgs []*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(timelineKey(convID), trim(model.MergeMessages(nil, msgs...)))
}

// Messages 读取时间线，按 (createdAt, id) 排序
func (s *Snapshot) Messages(convID string) ([]*model.Message, error) {
	var msgs []*model.Message
	if err := s.get(timelineKey(convID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MergeMessages 把乱序到达的事件按顺序并入时间线
func (s *Snapshot) MergeMessages(convID string, msgs ...*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline, err := s.Messages(convID)
	if err != nil && !errors.Is(err, ErrMiss) {
		return err
	}
	return s.put(timelineKey(convID), trim(model.MergeMessages(timeline, msgs...)))
}

// RemoveMessages 从时间线中移除消息
func (s *Snapshot) RemoveMessages(convID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline, err := s.Messages(convID)
	if errors.Is(err, ErrMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.put(timelineKey(convID), model.RemoveMessages(timeline, ids...))
}

// DeleteConversation 删除会话时间线
func (s *Snapshot) DeleteConversation(convID string) error {
	return s.db.Delete(timelineKey(convID), pebble.NoSync)
}

func trim(msgs []*model.Message) []*model.Message {
	if len(msgs) > maxTimelineLen {
		return msgs[len(msgs)-maxTimelineLen:]
	}
	return msgs
}

func (s *Snapshot) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// 快照可以丢失，不需要 fsync
	return s.db.Set(key, data, pebble.NoSync)
}

func (s *Snapshot) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(data, v)
}
