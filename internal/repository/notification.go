package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
)

// NotificationRepository 互动通知（PostgreSQL）
type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewNotificationRepository 创建通知仓库
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db, logger: slog.Default()}
}

// InsertBatch 使用 pgx.Batch 批量写入一次扇出产生的全部通知
func (r *NotificationRepository) InsertBatch(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notifications (id, recipient_id, sender_id, sender_name, kind, post_id, preview_text, read, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	for _, n := range notifications {
		batch.Queue(query,
			n.ID,
			n.RecipientID,
			n.SenderID,
			n.SenderName,
			string(n.Kind),
			n.PostID,
			n.PreviewText,
			n.Read,
			n.CreatedAt,
			n.ExpiresAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			r.logger.Error("Failed to close batch results", "error", err)
		}
	}()

	for _, n := range notifications {
		if _, err := br.Exec(); err != nil {
			r.logger.Error("Failed to save notification in batch", "notificationId", n.ID, "error", err)
			return storeErr(err)
		}
	}
	return nil
}

// ListForRecipient 未过期通知，按时间倒序
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, now time.Time, limit int) ([]*model.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, recipient_id, sender_id, sender_name, kind, post_id, preview_text, read, created_at, expires_at
		FROM notifications
		WHERE recipient_id = $1 AND expires_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, recipientID, now, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	list := make([]*model.Notification, 0)
	for rows.Next() {
		var (
			n    model.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.SenderName, &kind, &n.PostID,
			&n.PreviewText, &n.Read, &n.CreatedAt, &n.ExpiresAt); err != nil {
			return nil, storeErr(err)
		}
		n.Kind = model.NotificationKind(kind)
		list = append(list, &n)
	}
	return list, storeErr(rows.Err())
}

// MarkRead 标记通知已读
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`,
		notificationID, recipientID)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// PurgeExpired 删除过期通知，与已读状态无关
func (r *NotificationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}
