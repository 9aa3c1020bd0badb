package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
	"hudhud.im.sync/internal/service"
)

type stubMessenger struct {
	sent     []service.SendRequest
	observed []string
	opened   string
	typing   map[string]bool
	sendErr  error
	typeErr  error
}

func (s *stubMessenger) Send(_ context.Context, req service.SendRequest) (*service.SendResult, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, req)
	return &service.SendResult{Message: &model.Message{ID: req.ClientMsgID}}, nil
}

func (s *stubMessenger) MarkObserved(_ context.Context, _, _ string, ids []string) ([]string, error) {
	s.observed = ids
	return ids, nil
}

func (s *stubMessenger) Open(_ context.Context, convID, _ string) ([]string, error) {
	s.opened = convID
	return nil, nil
}

func (s *stubMessenger) SetTyping(_ context.Context, convID, uid string, typing bool) error {
	if s.typeErr != nil {
		return s.typeErr
	}
	if s.typing == nil {
		s.typing = map[string]bool{}
	}
	s.typing[convID+"/"+uid] = typing
	return nil
}

type stubFeed struct {
	liked    string
	comments []service.CommentRequest
}

func (s *stubFeed) ToggleLike(_ context.Context, postID, _, _ string) (bool, error) {
	s.liked = postID
	return true, nil
}

func (s *stubFeed) AddComment(_ context.Context, req service.CommentRequest) (*model.Comment, error) {
	s.comments = append(s.comments, req)
	return &model.Comment{ID: "c1"}, nil
}

type stubPresence struct{ online map[string]bool }

func (s *stubPresence) SetPresence(_ context.Context, uid string, online bool) error {
	s.online[uid] = online
	return nil
}

type stubRejecter struct{ events []*proto.Event }

func (s *stubRejecter) Publish(e *proto.Event) error {
	s.events = append(s.events, e)
	return nil
}

func encode(t *testing.T, cmd proto.UpstreamCommand) []byte {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return data
}

func newTestHandler() (*CommandHandler, *stubMessenger, *stubFeed, *stubPresence, *stubRejecter) {
	m, f, p, r := &stubMessenger{}, &stubFeed{}, &stubPresence{online: map[string]bool{}}, &stubRejecter{}
	return NewCommandHandler(m, f, p, r), m, f, p, r
}

func TestCommandHandler_Send(t *testing.T) {
	h, m, _, _, r := newTestHandler()

	h.Handle(context.Background(), encode(t, proto.UpstreamCommand{
		UserId:    "alice",
		RequestId: "r1",
		Payload: proto.CommandPayload{Send: &proto.SendCommand{
			ConversationId: "c1",
			ClientMsgId:    "m1",
			Kind:           model.KindLocation,
			Body:           json.RawMessage(`{"lat":24.7,"lng":46.7}`),
		}},
	}))

	require.Len(t, m.sent, 1)
	assert.Equal(t, "alice", m.sent[0].SenderID)
	assert.Equal(t, model.LocationBody{Lat: 24.7, Lng: 46.7}, m.sent[0].Body)
	assert.Empty(t, r.events)
}

func TestCommandHandler_RejectsBadKindAndServiceErrors(t *testing.T) {
	h, m, _, _, r := newTestHandler()

	h.Handle(context.Background(), encode(t, proto.UpstreamCommand{
		UserId:  "alice",
		Payload: proto.CommandPayload{Send: &proto.SendCommand{ConversationId: "c1", ClientMsgId: "m1", Kind: "sticker", Body: json.RawMessage(`{}`)}},
	}))
	require.Len(t, r.events, 1)
	assert.Equal(t, proto.EventCommandRejected, r.events[0].Type)
	assert.Equal(t, apperrors.CodeInvalidParams, r.events[0].ErrorCode)
	assert.Equal(t, []string{"m1"}, r.events[0].MessageIds)

	m.sendErr = apperrors.ErrNotAParticipant
	h.Handle(context.Background(), encode(t, proto.UpstreamCommand{
		UserId:    "mallory",
		RequestId: "r2",
		Payload:   proto.CommandPayload{Send: &proto.SendCommand{ConversationId: "c1", Kind: model.KindText, Body: json.RawMessage(`{"text":"hi"}`)}},
	}))
	require.Len(t, r.events, 2)
	assert.Equal(t, apperrors.CodeNotAParticipant, r.events[1].ErrorCode)
	assert.Equal(t, "r2", r.events[1].RequestId)
}

func TestCommandHandler_Dispatch(t *testing.T) {
	h, m, f, p, r := newTestHandler()
	ctx := context.Background()

	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{Observe: &proto.ObserveCommand{ConversationId: "c1", MessageIds: []string{"m1"}}}}))
	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{Open: &proto.OpenCommand{ConversationId: "c1"}}}))
	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{ToggleLike: &proto.ToggleLikeCommand{PostId: "p1"}}}))
	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{AddComment: &proto.AddCommentCommand{PostId: "p1", Text: "nice", ReplyCommentId: "k0"}}}))
	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{Presence: &proto.PresenceCommand{Online: true}}}))

	assert.Equal(t, []string{"m1"}, m.observed)
	assert.Equal(t, "c1", m.opened)
	assert.Equal(t, "p1", f.liked)
	require.Len(t, f.comments, 1)
	assert.Equal(t, "k0", f.comments[0].ReplyCommentID)
	assert.True(t, p.online["bob"])
	assert.Empty(t, r.events)

	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob"}))
	require.Len(t, r.events, 1, "空命令被拒绝")

	h.Handle(ctx, []byte("not json"))
	assert.Len(t, r.events, 1)
}

func TestCommandHandler_Typing(t *testing.T) {
	h, m, _, _, r := newTestHandler()
	ctx := context.Background()

	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{Typing: &proto.TypingCommand{ConversationId: "c1", Typing: true}}}))
	assert.Equal(t, map[string]bool{"c1/bob": true}, m.typing)

	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "bob", Payload: proto.CommandPayload{Typing: &proto.TypingCommand{ConversationId: "c1"}}}))
	assert.Equal(t, map[string]bool{"c1/bob": false}, m.typing)
	assert.Empty(t, r.events)

	m.typeErr = apperrors.ErrNotAParticipant
	h.Handle(ctx, encode(t, proto.UpstreamCommand{UserId: "mallory", RequestId: "r7", Payload: proto.CommandPayload{Typing: &proto.TypingCommand{ConversationId: "c1", Typing: true}}}))
	require.Len(t, r.events, 1)
	assert.Equal(t, apperrors.CodeNotAParticipant, r.events[0].ErrorCode)
	assert.Equal(t, "r7", r.events[0].RequestId)
}
