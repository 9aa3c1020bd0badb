package nats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestEventPublisher_PublishRoutesByUser(t *testing.T) {
	conn := &fakeConn{}
	p := NewEventPublisher(conn)
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }

	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: model.TextBody{Text: "hi"}}
	require.NoError(t, p.Publish(&proto.Event{Type: proto.EventMessageCreated, UserId: "bob", Message: msg}))

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "im.sync.user.bob", conn.msgs[0].subject)

	var got proto.Event
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, proto.EventMessageCreated, got.Type)
	assert.Equal(t, int64(1700000000000), got.Timestamp)
	assert.Equal(t, model.TextBody{Text: "hi"}, got.Message.Body)
}

func TestEventPublisher_PublishPush(t *testing.T) {
	conn := &fakeConn{}
	p := NewEventPublisher(conn)

	require.NoError(t, p.PublishPush(&proto.PushRequest{RecipientId: "bob", Title: "Alice", Body: "📷 Photo"}))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, SubjectPushNotification, conn.msgs[0].subject)
}

func TestEventPublisher_PropagatesError(t *testing.T) {
	p := NewEventPublisher(&fakeConn{err: errors.New("nats: connection closed")})
	assert.Error(t, p.Publish(&proto.Event{Type: proto.EventUnreadUpdated, UserId: "bob"}))
}
