package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
)

const messageColumns = `conversation_id, id, sender_id, kind, body, created_at, read_by, reply_to, edited_at`

// MessageRepository 消息日志（PostgreSQL）
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert 追加消息，按 (conversation_id, id) 幂等
// 返回 false 表示该消息已存在（客户端重试）
func (r *MessageRepository) Insert(ctx context.Context, msg *model.Message) (bool, error) {
	body, err := model.EncodeBody(msg.Body)
	if err != nil {
		return false, apperrors.ErrInvalidParams.Wrap(err)
	}
	var replyTo []byte
	if msg.ReplyTo != nil {
		if replyTo, err = json.Marshal(msg.ReplyTo); err != nil {
			return false, apperrors.ErrInvalidParams.Wrap(err)
		}
	}

	query := `
		INSERT INTO messages (conversation_id, id, sender_id, kind, body, created_at, read_by, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6, '{}', $7)
		ON CONFLICT (conversation_id, id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		msg.ConversationID,
		msg.ID,
		msg.SenderID,
		string(msg.Kind()),
		body,
		msg.CreatedAt,
		replyTo,
	)
	if err != nil {
		return false, storeErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get 获取单条消息
func (r *MessageRepository) Get(ctx context.Context, convID, msgID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND id = $2`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, convID, msgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return msg, nil
}

// List 按 (created_at, id) 升序返回消息
// since 为空时返回最新的 limit 条，否则返回 since 之后的消息
func (r *MessageRepository) List(ctx context.Context, convID string, since *time.Time, limit int) ([]*model.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if since == nil {
		query := `
			SELECT ` + messageColumns + ` FROM (
				SELECT ` + messageColumns + ` FROM messages
				WHERE conversation_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			) latest ORDER BY created_at, id
		`
		rows, err = r.db.Query(ctx, query, convID, limit)
	} else {
		query := `
			SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_id = $1 AND created_at > $2
			ORDER BY created_at, id
			LIMIT $3
		`
		rows, err = r.db.Query(ctx, query, convID, *since, limit)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, storeErr(rows.Err())
}

// MarkRead 将 reader 并入指定消息的已读集合
// 只处理他人发送且 reader 尚未读过的消息，返回实际变化的消息ID
func (r *MessageRepository) MarkRead(ctx context.Context, convID, reader string, msgIDs []string) ([]string, error) {
	if len(msgIDs) == 0 {
		return []string{}, nil
	}
	query := `
		UPDATE messages SET read_by = array_append(read_by, $2)
		WHERE conversation_id = $1 AND id = ANY($3)
		  AND sender_id <> $2 AND NOT ($2 = ANY(read_by))
		RETURNING id
	`
	return r.collectIDs(ctx, query, convID, reader, msgIDs)
}

// MarkAllRead 将会话中 reader 所有未读消息标记为已读
func (r *MessageRepository) MarkAllRead(ctx context.Context, convID, reader string) ([]string, error) {
	query := `
		UPDATE messages SET read_by = array_append(read_by, $2)
		WHERE conversation_id = $1
		  AND sender_id <> $2 AND NOT ($2 = ANY(read_by))
		RETURNING id
	`
	return r.collectIDs(ctx, query, convID, reader)
}

func (r *MessageRepository) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// UpdateText 修改文本消息内容
func (r *MessageRepository) UpdateText(ctx context.Context, convID, msgID, text string, editedAt time.Time) error {
	query := `
		UPDATE messages SET body = jsonb_set(body, '{text}', to_jsonb($3::text)), edited_at = $4
		WHERE conversation_id = $1 AND id = $2 AND kind = 'text'
	`
	tag, err := r.db.Exec(ctx, query, convID, msgID, text, editedAt)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete 批量删除消息，一次提交
func (r *MessageRepository) Delete(ctx context.Context, convID string, msgIDs []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1 AND id = ANY($2)`, convID, msgIDs)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteConversation 删除会话全部消息
func (r *MessageRepository) DeleteConversation(ctx context.Context, convID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, convID)
	return storeErr(err)
}

// DeleteBySenderBefore 删除发送者在 cutoff 之前发出的消息
func (r *MessageRepository) DeleteBySenderBefore(ctx context.Context, senderID string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE sender_id = $1 AND created_at < $2`, senderID, cutoff)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg     model.Message
		kind    string
		body    []byte
		replyTo []byte
	)
	err := row.Scan(
		&msg.ConversationID,
		&msg.ID,
		&msg.SenderID,
		&kind,
		&body,
		&msg.CreatedAt,
		&msg.ReadBy,
		&replyTo,
		&msg.EditedAt,
	)
	if err != nil {
		return nil, err
	}
	if msg.Body, err = model.DecodeBody(model.MessageKind(kind), body); err != nil {
		return nil, err
	}
	if len(replyTo) > 0 {
		msg.ReplyTo = &model.ReplyTo{}
		if err := json.Unmarshal(replyTo, msg.ReplyTo); err != nil {
			return nil, err
		}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	return &msg, nil
}
