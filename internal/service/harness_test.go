package service

import (
	"sync"
	"testing"
	"time"
)

type harness struct {
	convs    *memConvs
	messages *memMessages
	pub      *recorder
	cache    *memCache
	retry    *manualScheduler
	presence *memPresence
	blobs    *memBlobs
	ids      *seqIDs
	convSvc  *ConversationService
	msgSvc   *MessageService
	clockMu  sync.Mutex
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		convs:    newMemConvs(),
		messages: newMemMessages(),
		pub:      &recorder{},
		cache:    newMemCache(),
		retry:    &manualScheduler{},
		presence: &memPresence{online: map[string]bool{}},
		blobs:    &memBlobs{},
		ids:      &seqIDs{},
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.convSvc = NewConversationService(h.convs, h.messages, h.pub, h.cache, h.ids)
	h.convSvc.now = h.now
	h.msgSvc = NewMessageService(MessageServiceDeps{
		Convs:         h.convs,
		Messages:      h.messages,
		Conversations: h.convSvc,
		Publisher:     h.pub,
		Blobs:         h.blobs,
		Cache:         h.cache,
		Retry:         h.retry,
		Presence:      h.presence,
		IDs:           h.ids,
		MaxAttempts:   3,
	})
	h.msgSvc.now = h.now
	return h
}

// now 每次调用前进 1 秒，保证消息时间戳严格递增
func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(time.Second)
	return h.clock
}
