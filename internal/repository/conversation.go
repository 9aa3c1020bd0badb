package repository

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
)

// appliedMarkerTTL 发送幂等标记保留时长，覆盖客户端的全部重试窗口
const appliedMarkerTTL = 7 * 24 * time.Hour

// applyMessageScript 原子地应用一条新消息的会话副作用：
// 更新最后消息预览，其余参与者未读数 +1，刷新所有参与者的会话索引。
// 同一消息ID只生效一次。返回 1 已应用，0 重复，-1 会话不存在
var applyMessageScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[5]) == false then
	return 0
end
if redis.call('EXISTS', KEYS[2]) == 0 then
	redis.call('DEL', KEYS[1])
	return -1
end
redis.call('HSET', KEYS[2], 'last_preview', ARGV[2], 'last_kind', ARGV[3], 'last_sender', ARGV[1], 'updated_at', ARGV[4])
local members = redis.call('SMEMBERS', KEYS[3])
for _, m in ipairs(members) do
	if m ~= ARGV[1] then
		redis.call('HINCRBY', KEYS[4], m, 1)
	end
	redis.call('ZADD', ARGV[6] .. m .. ARGV[7], ARGV[4], ARGV[8])
end
return 1
`)

// createDirectScript 占用参与者对并写入私聊会话，二者在同一脚本内完成，
// 占位可见时会话一定已经可读。返回 1 创建成功，0 参与者对已存在
// KEYS: 参与者对, 会话Hash, 成员, 未读数, 两名参与者的会话索引
// ARGV: 会话ID, 参与者a, 参与者b, 更新时间, 其后为会话Hash的字段/值
var createDirectScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then
	return 0
end
local fields = {}
for i = 5, #ARGV do
	fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[2], unpack(fields))
redis.call('SADD', KEYS[3], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[4], ARGV[2], 0, ARGV[3], 0)
redis.call('ZADD', KEYS[5], ARGV[4], ARGV[1])
redis.call('ZADD', KEYS[6], ARGV[4], ARGV[1])
return 1
`)

// incrementUnreadScript 除 ARGV[1] 外所有参与者未读数 +1
var incrementUnreadScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, m in ipairs(members) do
	if m ~= ARGV[1] then
		redis.call('HINCRBY', KEYS[2], m, 1)
		n = n + 1
	end
end
return n
`)

// ConversationRepository 会话注册表（基于 Redis）
type ConversationRepository struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(redisClient *redis.Client) *ConversationRepository {
	return &ConversationRepository{
		redisClient: redisClient,
		logger:      slog.Default(),
	}
}

// storeErr 将基础设施错误统一为可重试的存储不可用错误
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.ErrStoreUnavailable.Wrap(err)
}

// CreateDirect 创建私聊会话
// 参与者对的占位与会话写入在同一脚本内完成，同一对参与者只存在一个私聊，
// 竞争失败方得到 AlreadyExists，随后 FindDirect 一定能读到胜出方的会话
func (r *ConversationRepository) CreateDirect(ctx context.Context, conv *model.Conversation) error {
	a, b := conv.Participants[0], conv.Participants[1]
	updatedAt := conv.UpdatedAt.UnixMilli()

	keys := []string{
		BuildDirectPairKey(a, b),
		BuildConversationKey(conv.ID),
		BuildConversationMembersKey(conv.ID),
		BuildConversationUnreadKey(conv.ID),
		BuildConversationIndexKey(a),
		BuildConversationIndexKey(b),
	}
	args := append([]any{conv.ID, a, b, updatedAt}, conversationFields(conv)...)

	created, err := createDirectScript.Run(ctx, r.redisClient, keys, args...).Int()
	if err != nil {
		return storeErr(err)
	}
	if created == 0 {
		return apperrors.ErrAlreadyExists
	}
	return nil
}

// FindDirect 查找两名参与者之间的私聊
func (r *ConversationRepository) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	id, err := r.redisClient.Get(ctx, BuildDirectPairKey(a, b)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return r.Get(ctx, id)
}

// CreateGroup 创建群聊会话
func (r *ConversationRepository) CreateGroup(ctx context.Context, conv *model.Conversation) error {
	return r.write(ctx, conv)
}

func (r *ConversationRepository) write(ctx context.Context, conv *model.Conversation) error {
	updatedAt := conv.UpdatedAt.UnixMilli()

	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BuildConversationKey(conv.ID), conversationFields(conv)...)
		pipe.SAdd(ctx, BuildConversationMembersKey(conv.ID), toAny(conv.Participants)...)
		if len(conv.AdminIDs) > 0 {
			pipe.SAdd(ctx, BuildConversationAdminsKey(conv.ID), toAny(conv.AdminIDs)...)
		}
		for _, p := range conv.Participants {
			pipe.HSet(ctx, BuildConversationUnreadKey(conv.ID), p, conv.UnreadCounts[p])
			pipe.ZAdd(ctx, BuildConversationIndexKey(p), redis.Z{Score: float64(updatedAt), Member: conv.ID})
		}
		return nil
	})
	return storeErr(err)
}

// conversationFields 会话Hash的字段/值列表
func conversationFields(conv *model.Conversation) []any {
	return []any{
		"kind", string(conv.Kind),
		"name", conv.Name,
		"avatar", conv.AvatarRef,
		"description", conv.Description,
		"last_preview", conv.LastMessagePreview,
		"last_kind", string(conv.LastMessageKind),
		"last_sender", conv.LastSenderID,
		"created_at", conv.CreatedAt.UnixMilli(),
		"updated_at", conv.UpdatedAt.UnixMilli(),
	}
}

// Get 获取会话
func (r *ConversationRepository) Get(ctx context.Context, convID string) (*model.Conversation, error) {
	convs, err := r.getMany(ctx, []string{convID})
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return convs[0], nil
}

type conversationCmds struct {
	meta    *redis.MapStringStringCmd
	members *redis.StringSliceCmd
	admins  *redis.StringSliceCmd
	unread  *redis.MapStringStringCmd
}

// getMany Pipeline 批量读取会话，跳过不存在的会话
func (r *ConversationRepository) getMany(ctx context.Context, ids []string) ([]*model.Conversation, error) {
	if len(ids) == 0 {
		return []*model.Conversation{}, nil
	}

	pipe := r.redisClient.Pipeline()
	cmds := make([]conversationCmds, len(ids))
	for i, id := range ids {
		cmds[i] = conversationCmds{
			meta:    pipe.HGetAll(ctx, BuildConversationKey(id)),
			members: pipe.SMembers(ctx, BuildConversationMembersKey(id)),
			admins:  pipe.SMembers(ctx, BuildConversationAdminsKey(id)),
			unread:  pipe.HGetAll(ctx, BuildConversationUnreadKey(id)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr(err)
	}

	convs := make([]*model.Conversation, 0, len(ids))
	for i, c := range cmds {
		meta := c.meta.Val()
		if len(meta) == 0 {
			continue
		}
		unread := make(map[string]int64)
		for uid, v := range c.unread.Val() {
			unread[uid] = parseInt64(v)
		}
		convs = append(convs, &model.Conversation{
			ID:                 ids[i],
			Kind:               model.ConversationKind(meta["kind"]),
			Participants:       sortedCopy(c.members.Val()),
			AdminIDs:           sortedCopy(c.admins.Val()),
			Name:               meta["name"],
			AvatarRef:          meta["avatar"],
			Description:        meta["description"],
			LastMessagePreview: meta["last_preview"],
			LastMessageKind:    model.MessageKind(meta["last_kind"]),
			LastSenderID:       meta["last_sender"],
			UnreadCounts:       unread,
			CreatedAt:          time.UnixMilli(parseInt64(meta["created_at"])),
			UpdatedAt:          time.UnixMilli(parseInt64(meta["updated_at"])),
		})
	}
	return convs, nil
}

// ApplyMessage 原子应用新消息的预览与未读计数，返回是否首次应用
func (r *ConversationRepository) ApplyMessage(ctx context.Context, msg *model.Message) (bool, error) {
	res, err := applyMessageScript.Run(ctx, r.redisClient,
		[]string{
			BuildAppliedMessageKey(msg.ConversationID, msg.ID),
			BuildConversationKey(msg.ConversationID),
			BuildConversationMembersKey(msg.ConversationID),
			BuildConversationUnreadKey(msg.ConversationID),
		},
		msg.SenderID,
		model.Preview(msg.Body),
		string(msg.Kind()),
		msg.CreatedAt.UnixMilli(),
		int64(appliedMarkerTTL/time.Second),
		keyPrefix+"user:",
		":convs",
		msg.ConversationID,
	).Int()
	if err != nil {
		return false, storeErr(err)
	}
	switch res {
	case -1:
		return false, apperrors.ErrNotFound
	case 0:
		r.logger.Debug("Message already applied", "conversationId", msg.ConversationID, "messageId", msg.ID)
		return false, nil
	}
	return true, nil
}

// IncrementUnread 除 except 外的参与者未读数 +1
func (r *ConversationRepository) IncrementUnread(ctx context.Context, convID, except string) error {
	err := incrementUnreadScript.Run(ctx, r.redisClient,
		[]string{BuildConversationMembersKey(convID), BuildConversationUnreadKey(convID)},
		except,
	).Err()
	return storeErr(err)
}

// ZeroUnread 清零参与者未读数
func (r *ConversationRepository) ZeroUnread(ctx context.Context, convID, uid string) error {
	return storeErr(r.redisClient.HSet(ctx, BuildConversationUnreadKey(convID), uid, 0).Err())
}

// AddMembers 添加群成员
func (r *ConversationRepository) AddMembers(ctx context.Context, convID string, uids []string, at time.Time) error {
	if len(uids) == 0 {
		return nil
	}
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, BuildConversationMembersKey(convID), toAny(uids)...)
		for _, uid := range uids {
			pipe.HSetNX(ctx, BuildConversationUnreadKey(convID), uid, 0)
			pipe.ZAdd(ctx, BuildConversationIndexKey(uid), redis.Z{Score: float64(at.UnixMilli()), Member: convID})
		}
		pipe.HSet(ctx, BuildConversationKey(convID), "updated_at", at.UnixMilli())
		return nil
	})
	return storeErr(err)
}

// RemoveMembers 移除群成员，同时撤销其管理员身份与未读计数
func (r *ConversationRepository) RemoveMembers(ctx context.Context, convID string, uids []string, at time.Time) error {
	if len(uids) == 0 {
		return nil
	}
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, BuildConversationMembersKey(convID), toAny(uids)...)
		pipe.SRem(ctx, BuildConversationAdminsKey(convID), toAny(uids)...)
		pipe.HDel(ctx, BuildConversationUnreadKey(convID), uids...)
		for _, uid := range uids {
			pipe.ZRem(ctx, BuildConversationIndexKey(uid), convID)
		}
		pipe.HSet(ctx, BuildConversationKey(convID), "updated_at", at.UnixMilli())
		return nil
	})
	return storeErr(err)
}

// UpdateInfo 更新群资料，空值字段不修改
func (r *ConversationRepository) UpdateInfo(ctx context.Context, convID, name, avatar, description string) error {
	fields := make([]any, 0, 6)
	if name != "" {
		fields = append(fields, "name", name)
	}
	if avatar != "" {
		fields = append(fields, "avatar", avatar)
	}
	if description != "" {
		fields = append(fields, "description", description)
	}
	if len(fields) == 0 {
		return nil
	}
	return storeErr(r.redisClient.HSet(ctx, BuildConversationKey(convID), fields...).Err())
}

// Delete 删除会话及其全部索引
func (r *ConversationRepository) Delete(ctx context.Context, conv *model.Conversation) error {
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			BuildConversationKey(conv.ID),
			BuildConversationMembersKey(conv.ID),
			BuildConversationAdminsKey(conv.ID),
			BuildConversationUnreadKey(conv.ID),
		)
		for _, p := range conv.Participants {
			pipe.ZRem(ctx, BuildConversationIndexKey(p), conv.ID)
		}
		if conv.Kind == model.ConversationDirect && len(conv.Participants) == 2 {
			pipe.Del(ctx, BuildDirectPairKey(conv.Participants[0], conv.Participants[1]))
		}
		return nil
	})
	return storeErr(err)
}

// ListForUser 获取用户会话列表（按更新时间倒序）
func (r *ConversationRepository) ListForUser(ctx context.Context, uid string, offset, limit int64) ([]*model.Conversation, error) {
	ids, err := r.redisClient.ZRevRange(ctx, BuildConversationIndexKey(uid), offset, offset+limit-1).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	return r.getMany(ctx, ids)
}

// TotalUnread 获取用户总未读数
func (r *ConversationRepository) TotalUnread(ctx context.Context, uid string) (int64, error) {
	ids, err := r.redisClient.ZRange(ctx, BuildConversationIndexKey(uid), 0, -1).Result()
	if err != nil {
		return 0, storeErr(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.redisClient.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, BuildConversationUnreadKey(id), uid)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, storeErr(err)
	}

	var total int64
	for _, cmd := range cmds {
		if count, err := cmd.Int64(); err == nil {
			total += count
		}
	}
	return total, nil
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
