package model

import (
	"slices"
	"strings"
)

// CompareMessages 消息全序：先按 CreatedAt，相同时按 ID
func CompareMessages(a, b *Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortMessages 原地排序，结果与到达顺序无关
func SortMessages(msgs []*Message) {
	slices.SortStableFunc(msgs, CompareMessages)
}

// MergeMessages 将乱序到达的消息事件合并进有序时间线
// 同一 ID 只保留一份：已读集合取并集，编辑过的文本以较新的编辑为准
func MergeMessages(timeline []*Message, incoming ...*Message) []*Message {
	byID := make(map[string]*Message, len(timeline)+len(incoming))
	merged := make([]*Message, 0, len(timeline)+len(incoming))

	add := func(m *Message) {
		if m == nil {
			return
		}
		existing, ok := byID[m.ID]
		if !ok {
			cp := *m
			cp.ReadBy = slices.Clone(m.ReadBy)
			byID[m.ID] = &cp
			merged = append(merged, &cp)
			return
		}
		for _, r := range m.ReadBy {
			if !existing.ReadByContains(r) {
				existing.ReadBy = append(existing.ReadBy, r)
			}
		}
		if m.EditedAt != nil && (existing.EditedAt == nil || m.EditedAt.After(*existing.EditedAt)) {
			existing.Body = m.Body
			existing.EditedAt = m.EditedAt
		}
	}

	for _, m := range timeline {
		add(m)
	}
	for _, m := range incoming {
		add(m)
	}

	SortMessages(merged)
	return merged
}

// RemoveMessages 从时间线中移除指定消息
func RemoveMessages(timeline []*Message, ids ...string) []*Message {
	if len(ids) == 0 {
		return timeline
	}
	return slices.DeleteFunc(slices.Clone(timeline), func(m *Message) bool {
		return slices.Contains(ids, m.ID)
	})
}
