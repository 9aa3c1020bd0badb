package nats

// NATS Subject 常量定义
const (
	// SubjectUpstream 网关 -> 同步核心 上行命令
	SubjectUpstream = "im.sync.upstream"

	// SubjectUserEventsPrefix 同步核心 -> 参与者 下行事件前缀
	// 完整格式: im.sync.user.{uid}
	SubjectUserEventsPrefix = "im.sync.user."

	// SubjectPushNotification 推送请求，由推送分发器消费
	SubjectPushNotification = "im.push.notification"

	// QueueGroupSync 同步核心队列组
	QueueGroupSync = "sync-group"

	// QueueGroupPush 推送分发器队列组
	QueueGroupPush = "push-group"
)

// BuildUserEventsSubject 构建参与者下行事件 Subject
func BuildUserEventsSubject(uid string) string {
	return SubjectUserEventsPrefix + uid
}
