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

const postColumns = `id, author_id, author_name, text, media_ref, media_kind, created_at, expires_at, comment_count`

// PostRepository 限时动态、审核归档与评论（PostgreSQL）
type PostRepository struct {
	db *pgxpool.Pool
}

// NewPostRepository 创建动态仓库
func NewPostRepository(db *pgxpool.Pool) *PostRepository {
	return &PostRepository{db: db}
}

// Create 创建动态
func (r *PostRepository) Create(ctx context.Context, post *model.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
	`
	_, err := r.db.Exec(ctx, query,
		post.ID,
		post.AuthorID,
		post.AuthorName,
		post.Text,
		post.MediaRef,
		post.MediaKind,
		post.CreatedAt,
		post.ExpiresAt,
	)
	return storeErr(err)
}

// Get 获取动态，归档中的动态 Archived 为 true
func (r *PostRepository) Get(ctx context.Context, postID string) (*model.Post, error) {
	query := `
		SELECT ` + postColumns + `, FALSE FROM posts WHERE id = $1
		UNION ALL
		SELECT ` + postColumns + `, TRUE FROM archived_posts WHERE id = $1
		LIMIT 1
	`
	post, err := scanPost(r.db.QueryRow(ctx, query, postID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return post, nil
}

// ListActive 主信息流：未过期且未被隐藏的动态，按时间倒序
func (r *PostRepository) ListActive(ctx context.Context, now time.Time) ([]*model.Post, error) {
	query := `SELECT ` + postColumns + `, FALSE FROM posts WHERE expires_at > $1 ORDER BY created_at DESC, id DESC`
	return r.listPosts(ctx, query, now)
}

// ListArchived 审核归档中未过期的动态
func (r *PostRepository) ListArchived(ctx context.Context, now time.Time) ([]*model.Post, error) {
	query := `SELECT ` + postColumns + `, TRUE FROM archived_posts WHERE expires_at > $1 ORDER BY archived_at DESC, id DESC`
	return r.listPosts(ctx, query, now)
}

func (r *PostRepository) listPosts(ctx context.Context, query string, args ...any) ([]*model.Post, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	posts := make([]*model.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		posts = append(posts, post)
	}
	return posts, storeErr(rows.Err())
}

// Archive 将动态移入审核归档，单条语句完成移动
func (r *PostRepository) Archive(ctx context.Context, postID, actor string, at time.Time) error {
	query := `
		WITH moved AS (DELETE FROM posts WHERE id = $1 RETURNING ` + postColumns + `)
		INSERT INTO archived_posts (` + postColumns + `, archived_by, archived_at)
		SELECT ` + postColumns + `, $2, $3 FROM moved
	`
	return r.move(ctx, query, postID, actor, at)
}

// Restore 将动态从审核归档移回主信息流
func (r *PostRepository) Restore(ctx context.Context, postID string) error {
	query := `
		WITH moved AS (DELETE FROM archived_posts WHERE id = $1 RETURNING ` + postColumns + `)
		INSERT INTO posts (` + postColumns + `)
		SELECT ` + postColumns + ` FROM moved
	`
	return r.move(ctx, query, postID)
}

func (r *PostRepository) move(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete 删除动态及其评论
func (r *PostRepository) Delete(ctx context.Context, postID string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE post_id = $1`, postID); err != nil {
			return storeErr(err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
		if err != nil {
			return storeErr(err)
		}
		archived, err := tx.Exec(ctx, `DELETE FROM archived_posts WHERE id = $1`, postID)
		if err != nil {
			return storeErr(err)
		}
		if tag.RowsAffected()+archived.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

// AddComment 写入评论并原子地增加评论数
// 在同一事务内返回此前评论过的不同用户（按首次评论时间排序），用于通知扇出
func (r *PostRepository) AddComment(ctx context.Context, comment *model.Comment) ([]string, error) {
	var replyTo []byte
	if comment.ReplyTo != nil {
		var err error
		if replyTo, err = json.Marshal(comment.ReplyTo); err != nil {
			return nil, apperrors.ErrInvalidParams.Wrap(err)
		}
	}

	var prior []string
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1`, comment.PostID)
		if err != nil {
			return storeErr(err)
		}
		if tag.RowsAffected() == 0 {
			tag, err = tx.Exec(ctx, `UPDATE archived_posts SET comment_count = comment_count + 1 WHERE id = $1`, comment.PostID)
			if err != nil {
				return storeErr(err)
			}
			if tag.RowsAffected() == 0 {
				return apperrors.ErrNotFound
			}
		}

		rows, err := tx.Query(ctx, `
			SELECT author_id FROM comments WHERE post_id = $1
			GROUP BY author_id ORDER BY MIN(created_at), author_id
		`, comment.PostID)
		if err != nil {
			return storeErr(err)
		}
		if prior, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return storeErr(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO comments (id, post_id, author_id, author_name, text, created_at, reply_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, comment.ID, comment.PostID, comment.AuthorID, comment.AuthorName, comment.Text, comment.CreatedAt, replyTo)
		return storeErr(err)
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// GetComment 获取单条评论
func (r *PostRepository) GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	query := `SELECT id, post_id, author_id, author_name, text, created_at, reply_to FROM comments WHERE post_id = $1 AND id = $2`
	c, err := scanComment(r.db.QueryRow(ctx, query, postID, commentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

// ListComments 动态评论，按时间正序
func (r *PostRepository) ListComments(ctx context.Context, postID string) ([]*model.Comment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, post_id, author_id, author_name, text, created_at, reply_to
		FROM comments WHERE post_id = $1 ORDER BY created_at, id
	`, postID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	comments := make([]*model.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		comments = append(comments, c)
	}
	return comments, storeErr(rows.Err())
}

// PurgeExpired 删除主表与归档中所有已过期的动态及其评论，返回被删除的动态ID
func (r *PostRepository) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH expired AS (
				DELETE FROM posts WHERE expires_at <= $1 RETURNING id
			), expired_archived AS (
				DELETE FROM archived_posts WHERE expires_at <= $1 RETURNING id
			)
			SELECT id FROM expired UNION ALL SELECT id FROM expired_archived
		`, now)
		if err != nil {
			return storeErr(err)
		}
		if ids, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return storeErr(err)
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `DELETE FROM comments WHERE post_id = ANY($1)`, ids)
		return storeErr(err)
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func scanPost(row pgx.Row) (*model.Post, error) {
	var p model.Post
	err := row.Scan(
		&p.ID,
		&p.AuthorID,
		&p.AuthorName,
		&p.Text,
		&p.MediaRef,
		&p.MediaKind,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.CommentCount,
		&p.Archived,
	)
	if err != nil {
		return nil, err
	}
	p.Likes = []string{}
	return &p, nil
}

func scanComment(row pgx.Row) (*model.Comment, error) {
	var (
		c       model.Comment
		replyTo []byte
	)
	if err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.AuthorName, &c.Text, &c.CreatedAt, &replyTo); err != nil {
		return nil, err
	}
	if len(replyTo) > 0 {
		c.ReplyTo = &model.CommentRef{}
		if err := json.Unmarshal(replyTo, c.ReplyTo); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
