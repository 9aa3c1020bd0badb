package readstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hudhud.im.sync/internal/model"
)

type stubPresence struct {
	online map[string]bool
	err    error
}

func (s stubPresence) IsOnline(_ context.Context, uid string) (bool, error) {
	return s.online[uid], s.err
}

func msg(id, sender string, readBy ...string) *model.Message {
	return &model.Message{ID: id, SenderID: sender, Body: model.TextBody{Text: id}, CreatedAt: time.Now(), ReadBy: readBy}
}

func TestStateFor(t *testing.T) {
	m := msg("m1", "alice", "bob")
	assert.Equal(t, StateRead, StateFor(m, "bob"))
	assert.Equal(t, StateSent, StateFor(m, "carol"))
	assert.Equal(t, "read", StateRead.String())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name         string
		readBy       []string
		participants []string
		allRead      bool
		pending      []string
	}{
		{"nobody read", nil, []string{"alice", "bob", "carol"}, false, []string{"bob", "carol"}},
		{"partial", []string{"bob"}, []string{"alice", "bob", "carol"}, false, []string{"carol"}},
		{"everyone", []string{"bob", "carol"}, []string{"alice", "bob", "carol"}, true, []string{}},
		{"departed reader ignored", []string{"dave"}, []string{"alice", "bob"}, false, []string{"bob"}},
		{"sender alone", nil, []string{"alice"}, false, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Aggregate(msg("m1", "alice", tt.readBy...), tt.participants)
			assert.Equal(t, tt.allRead, r.AllRead)
			assert.Equal(t, tt.pending, r.Pending)
		})
	}
}

func TestDisplayTick(t *testing.T) {
	direct := &model.Conversation{Kind: model.ConversationDirect, Participants: []string{"alice", "bob"}}
	group := &model.Conversation{Kind: model.ConversationGroup, Participants: []string{"alice", "bob", "carol"}}

	assert.Equal(t, TickSingle, DisplayTick(msg("m", "alice"), "alice", direct, false))
	assert.Equal(t, TickDouble, DisplayTick(msg("m", "alice"), "alice", direct, true))
	assert.Equal(t, TickRead, DisplayTick(msg("m", "alice", "bob"), "alice", direct, false))
	assert.Equal(t, TickSingle, DisplayTick(msg("m", "alice"), "alice", group, true), "群聊不做在线乐观显示")
	assert.Equal(t, TickNone, DisplayTick(msg("m", "bob"), "alice", direct, true))
}

func TestUnread(t *testing.T) {
	msgs := []*model.Message{msg("m1", "alice"), msg("m2", "bob"), msg("m3", "alice", "bob")}
	assert.Equal(t, []string{"m1"}, Unread(msgs, "bob"))
}

func TestTrackerTicks(t *testing.T) {
	direct := &model.Conversation{Kind: model.ConversationDirect, Participants: []string{"alice", "bob"}}
	msgs := []*model.Message{msg("m1", "alice"), msg("m2", "bob"), msg("m3", "alice", "bob")}

	tracker := NewTracker(stubPresence{online: map[string]bool{"bob": true}})
	ticks := tracker.Ticks(context.Background(), direct, "alice", msgs)
	assert.Equal(t, map[string]Tick{"m1": TickDouble, "m3": TickRead}, ticks)

	failing := NewTracker(stubPresence{err: errors.New("redis down")})
	ticks = failing.Ticks(context.Background(), direct, "alice", msgs)
	assert.Equal(t, TickSingle, ticks["m1"])
}
