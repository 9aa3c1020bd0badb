package readstate

import (
	"context"
	"log/slog"

	"hudhud.im.sync/internal/model"
)

// State 单个接收者视角下的消息状态，只有两种
type State int

const (
	StateSent State = iota // 已写入日志，接收者尚未阅读
	StateRead              // 接收者在已读集合中
)

func (s State) String() string {
	if s == StateRead {
		return "read"
	}
	return "sent"
}

// Tick 发送者界面上的勾选显示，仅为展示用途
type Tick string

const (
	TickNone   Tick = ""
	TickSingle Tick = "single" // 已发送
	TickDouble Tick = "double" // 乐观显示：私聊对方在线
	TickRead   Tick = "read"   // 已读
)

// StateFor 接收者视角的消息状态
func StateFor(msg *model.Message, recipient string) State {
	if msg.ReadByContains(recipient) {
		return StateRead
	}
	return StateSent
}

// Receipt 发送者侧的已读回执汇总
type Receipt struct {
	MessageID  string   `json:"messageId"`
	Recipients []string `json:"recipients"`
	ReadBy     []string `json:"readBy"`
	Pending    []string `json:"pending"`
	AllRead    bool     `json:"allRead"`
}

// Aggregate 按当前参与者汇总回执，已离开会话的读者不计入
func Aggregate(msg *model.Message, participants []string) Receipt {
	r := Receipt{
		MessageID:  msg.ID,
		Recipients: []string{},
		ReadBy:     []string{},
		Pending:    []string{},
	}
	for _, p := range participants {
		if p == msg.SenderID {
			continue
		}
		r.Recipients = append(r.Recipients, p)
		if msg.ReadByContains(p) {
			r.ReadBy = append(r.ReadBy, p)
		} else {
			r.Pending = append(r.Pending, p)
		}
	}
	r.AllRead = len(r.Recipients) > 0 && len(r.Pending) == 0
	return r
}

// DisplayTick 发送者看到的勾选状态
// 全部接收者已读显示已读；私聊对方在线时乐观显示双勾，不改变底层状态
func DisplayTick(msg *model.Message, viewer string, conv *model.Conversation, peerOnline bool) Tick {
	if msg.SenderID != viewer {
		return TickNone
	}
	if Aggregate(msg, conv.Participants).AllRead {
		return TickRead
	}
	if conv.Kind == model.ConversationDirect && peerOnline {
		return TickDouble
	}
	return TickSingle
}

// Unread 可被 reader 标记为已读的消息ID
func Unread(msgs []*model.Message, reader string) []string {
	ids := make([]string, 0)
	for _, m := range msgs {
		if m.SenderID != reader && !m.ReadByContains(reader) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// PresenceStore 在线状态查询
type PresenceStore interface {
	IsOnline(ctx context.Context, uid string) (bool, error)
}

// Tracker 结合在线状态计算展示用的勾选
type Tracker struct {
	presence PresenceStore
	logger   *slog.Logger
}

// NewTracker 创建已读状态跟踪器
func NewTracker(presence PresenceStore) *Tracker {
	return &Tracker{presence: presence, logger: slog.Default()}
}

// Ticks 计算 viewer 发出的每条消息的勾选状态
// 在线状态查询失败时按离线处理
func (t *Tracker) Ticks(ctx context.Context, conv *model.Conversation, viewer string, msgs []*model.Message) map[string]Tick {
	peerOnline := false
	if peer := conv.Peer(viewer); peer != "" && t.presence != nil {
		online, err := t.presence.IsOnline(ctx, peer)
		if err != nil {
			t.logger.Warn("Presence lookup failed", "peer", peer, "error", err)
		}
		peerOnline = online
	}

	ticks := make(map[string]Tick, len(msgs))
	for _, m := range msgs {
		if tick := DisplayTick(m, viewer, conv, peerOnline); tick != TickNone {
			ticks[m.ID] = tick
		}
	}
	return ticks
}
