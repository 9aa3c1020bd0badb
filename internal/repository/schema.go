package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema 消息日志与动态相关表结构
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT        NOT NULL,
	id              TEXT        NOT NULL,
	sender_id       TEXT        NOT NULL,
	kind            TEXT        NOT NULL,
	body            JSONB       NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	read_by         TEXT[]      NOT NULL DEFAULT '{}',
	reply_to        JSONB,
	edited_at       TIMESTAMPTZ,
	PRIMARY KEY (conversation_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_order ON messages (conversation_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id, created_at);

CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	author_id     TEXT        NOT NULL,
	author_name   TEXT        NOT NULL DEFAULT '',
	text          TEXT        NOT NULL DEFAULT '',
	media_ref     TEXT        NOT NULL DEFAULT '',
	media_kind    TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	comment_count BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_expires ON posts (expires_at);

CREATE TABLE IF NOT EXISTS archived_posts (
	id            TEXT PRIMARY KEY,
	author_id     TEXT        NOT NULL,
	author_name   TEXT        NOT NULL DEFAULT '',
	text          TEXT        NOT NULL DEFAULT '',
	media_ref     TEXT        NOT NULL DEFAULT '',
	media_kind    TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	comment_count BIGINT      NOT NULL DEFAULT 0,
	archived_by   TEXT        NOT NULL,
	archived_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_posts_expires ON archived_posts (expires_at);

CREATE TABLE IF NOT EXISTS comments (
	id          TEXT PRIMARY KEY,
	post_id     TEXT        NOT NULL,
	author_id   TEXT        NOT NULL,
	author_name TEXT        NOT NULL DEFAULT '',
	text        TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	reply_to    JSONB
);
CREATE INDEX IF NOT EXISTS idx_comments_post ON comments (post_id, created_at, id);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT        NOT NULL,
	sender_id    TEXT        NOT NULL,
	sender_name  TEXT        NOT NULL DEFAULT '',
	kind         TEXT        NOT NULL,
	post_id      TEXT        NOT NULL,
	preview_text TEXT        NOT NULL DEFAULT '',
	read         BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications (expires_at);
`

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return storeErr(err)
}
