package repository

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hudhud.im.sync/internal/model"
)

// toggleLikeScript 原子切换点赞，返回 1 表示新增，0 表示取消
var toggleLikeScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	redis.call('SREM', KEYS[1], ARGV[1])
	return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// LikeRepository 动态点赞集合
type LikeRepository struct {
	redisClient *redis.Client
}

// NewLikeRepository 创建点赞仓库
func NewLikeRepository(redisClient *redis.Client) *LikeRepository {
	return &LikeRepository{redisClient: redisClient}
}

// Toggle 切换点赞状态，返回切换后是否为点赞
func (r *LikeRepository) Toggle(ctx context.Context, postID, uid string) (bool, error) {
	res, err := toggleLikeScript.Run(ctx, r.redisClient, []string{BuildPostLikesKey(postID)}, uid).Int()
	if err != nil {
		return false, storeErr(err)
	}
	return res == 1, nil
}

// Likers 获取点赞用户
func (r *LikeRepository) Likers(ctx context.Context, postID string) ([]string, error) {
	uids, err := r.redisClient.SMembers(ctx, BuildPostLikesKey(postID)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	return sortedCopy(uids), nil
}

// LikersMany 批量获取点赞用户
func (r *LikeRepository) LikersMany(ctx context.Context, postIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}
	pipe := r.redisClient.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(postIDs))
	for i, id := range postIDs {
		cmds[i] = pipe.SMembers(ctx, BuildPostLikesKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr(err)
	}
	for i, id := range postIDs {
		result[id] = sortedCopy(cmds[i].Val())
	}
	return result, nil
}

// DeleteAll 删除动态的点赞集合
func (r *LikeRepository) DeleteAll(ctx context.Context, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	keys := make([]string, len(postIDs))
	for i, id := range postIDs {
		keys[i] = BuildPostLikesKey(id)
	}
	return storeErr(r.redisClient.Del(ctx, keys...).Err())
}

// PresenceRepository 在线状态（TTL 续期）
type PresenceRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewPresenceRepository 创建在线状态仓库
func NewPresenceRepository(redisClient *redis.Client, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{redisClient: redisClient, ttl: ttl}
}

// SetOnline 标记在线，需要客户端心跳续期
func (r *PresenceRepository) SetOnline(ctx context.Context, uid string) error {
	return storeErr(r.redisClient.Set(ctx, BuildPresenceKey(uid), "1", r.ttl).Err())
}

// SetOffline 标记离线
func (r *PresenceRepository) SetOffline(ctx context.Context, uid string) error {
	return storeErr(r.redisClient.Del(ctx, BuildPresenceKey(uid)).Err())
}

// IsOnline 是否在线
func (r *PresenceRepository) IsOnline(ctx context.Context, uid string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, BuildPresenceKey(uid)).Result()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

// SettingsRepository 用户设置（Hash）
type SettingsRepository struct {
	redisClient *redis.Client
}

// NewSettingsRepository 创建设置仓库
func NewSettingsRepository(redisClient *redis.Client) *SettingsRepository {
	return &SettingsRepository{redisClient: redisClient}
}

// Load 读取设置，found 为 false 表示尚未保存过
func (r *SettingsRepository) Load(ctx context.Context, uid string) (model.Settings, bool, error) {
	data, err := r.redisClient.HGetAll(ctx, BuildSettingsKey(uid)).Result()
	if err != nil {
		return model.Settings{}, false, storeErr(err)
	}
	if len(data) == 0 {
		return model.Settings{}, false, nil
	}
	size, _ := strconv.Atoi(data["font_size"])
	return model.Settings{
		FontSize:  size,
		Language:  data["language"],
		Wallpaper: data["wallpaper"],
	}, true, nil
}

// Save 保存设置
func (r *SettingsRepository) Save(ctx context.Context, uid string, s model.Settings) error {
	return storeErr(r.redisClient.HSet(ctx, BuildSettingsKey(uid),
		"font_size", s.FontSize,
		"language", s.Language,
		"wallpaper", s.Wallpaper,
	).Err())
}

// PushTokenRepository 推送 Token 集合
type PushTokenRepository struct {
	redisClient *redis.Client
}

// NewPushTokenRepository 创建推送 Token 仓库
func NewPushTokenRepository(redisClient *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{redisClient: redisClient}
}

// Add 注册 Token
func (r *PushTokenRepository) Add(ctx context.Context, uid, token string) error {
	return storeErr(r.redisClient.SAdd(ctx, BuildPushTokensKey(uid), token).Err())
}

// Remove 注销 Token
func (r *PushTokenRepository) Remove(ctx context.Context, uid string, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	return storeErr(r.redisClient.SRem(ctx, BuildPushTokensKey(uid), toAny(tokens)...).Err())
}

// List 获取用户全部 Token
func (r *PushTokenRepository) List(ctx context.Context, uid string) ([]string, error) {
	tokens, err := r.redisClient.SMembers(ctx, BuildPushTokensKey(uid)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	return sortedCopy(tokens), nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out
}
