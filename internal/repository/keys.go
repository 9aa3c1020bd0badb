package repository

import "fmt"

const keyPrefix = "im:"

// BuildConversationKey 会话元数据 Hash
// Key: im:conv:{convId}
func BuildConversationKey(convID string) string {
	return fmt.Sprintf("%sconv:%s", keyPrefix, convID)
}

// BuildConversationMembersKey 会话参与者 Set
func BuildConversationMembersKey(convID string) string {
	return BuildConversationKey(convID) + ":members"
}

// BuildConversationAdminsKey 群管理员 Set
func BuildConversationAdminsKey(convID string) string {
	return BuildConversationKey(convID) + ":admins"
}

// BuildConversationUnreadKey 参与者未读数 Hash，field 为参与者ID
func BuildConversationUnreadKey(convID string) string {
	return BuildConversationKey(convID) + ":unread"
}

// BuildAppliedMessageKey 消息已应用标记，保证发送副作用幂等
func BuildAppliedMessageKey(convID, msgID string) string {
	return fmt.Sprintf("%sconv:%s:applied:%s", keyPrefix, convID, msgID)
}

// BuildConversationIndexKey 用户会话索引 ZSet，score 为更新时间（毫秒）
// Key: im:user:{uid}:convs
func BuildConversationIndexKey(uid string) string {
	return fmt.Sprintf("%suser:%s:convs", keyPrefix, uid)
}

// BuildDirectPairKey 私聊唯一性 Key，参与者按字典序排列
func BuildDirectPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%sdirect:%s|%s", keyPrefix, a, b)
}

// BuildPostLikesKey 动态点赞 Set
func BuildPostLikesKey(postID string) string {
	return fmt.Sprintf("%spost:%s:likes", keyPrefix, postID)
}

// BuildPresenceKey 在线状态 Key（带 TTL）
func BuildPresenceKey(uid string) string {
	return fmt.Sprintf("%suser:%s:online", keyPrefix, uid)
}

// BuildSettingsKey 用户设置 Hash
func BuildSettingsKey(uid string) string {
	return fmt.Sprintf("%suser:%s:settings", keyPrefix, uid)
}

// BuildPushTokensKey 用户推送 Token Set
func BuildPushTokensKey(uid string) string {
	return fmt.Sprintf("%suser:%s:push_tokens", keyPrefix, uid)
}
