package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
)

// 注意：这些测试需要一个可用的 PostgreSQL，通过 SYNC_TEST_DATABASE_URL 指定
// 未设置时跳过

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("SYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("跳过测试：未设置 SYNC_TEST_DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("跳过测试：无法连接 PostgreSQL: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		t.Skipf("跳过测试：无法连接 PostgreSQL: %v", err)
	}

	require.NoError(t, EnsureSchema(ctx, db))
	_, err = db.Exec(ctx, `TRUNCATE messages, posts, archived_posts, comments, notifications`)
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestMessageRepository_InsertIdempotentAndOrdered(t *testing.T) {
	db := getTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	m2 := textMsg("c1", "m2", "alice", "second", base.Add(time.Second))
	m1 := textMsg("c1", "m1", "bob", "first", base)
	m3 := &model.Message{ID: "m3", ConversationID: "c1", SenderID: "alice",
		Body: model.ImageBody{Ref: "media/x.jpg"}, CreatedAt: base.Add(time.Second),
		ReplyTo: &model.ReplyTo{MessageID: "m1", SenderName: "Bob", Preview: "first", Kind: model.KindText}}

	for _, m := range []*model.Message{m2, m1, m3} {
		inserted, err := repo.Insert(ctx, m)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := repo.Insert(ctx, m2)
	require.NoError(t, err)
	assert.False(t, inserted, "重复插入应被忽略")

	msgs, err := repo.List(ctx, "c1", nil, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "m1", msgs[2].ReplyTo.MessageID)
	assert.Equal(t, model.ImageBody{Ref: "media/x.jpg"}, msgs[2].Body)

	since := base
	later, err := repo.List(ctx, "c1", &since, 50)
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestMessageRepository_MarkReadMonotonic(t *testing.T) {
	db := getTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := repo.Insert(ctx, textMsg("c1", "m1", "alice", "hi", base))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, textMsg("c1", "m2", "bob", "hey", base.Add(time.Second)))
	require.NoError(t, err)

	changed, err := repo.MarkRead(ctx, "c1", "bob", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, changed, "自己发送的消息不计入已读")

	changed, err = repo.MarkRead(ctx, "c1", "bob", []string{"m1"})
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = repo.MarkAllRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, changed)

	m1, err := repo.Get(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, m1.ReadBy)
}

func TestMessageRepository_EditAndDelete(t *testing.T) {
	db := getTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := repo.Insert(ctx, textMsg("c1", "m1", "alice", "helo", base))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, &model.Message{ID: "m2", ConversationID: "c1", SenderID: "alice",
		Body: model.LocationBody{Lat: 1, Lng: 2}, CreatedAt: base})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateText(ctx, "c1", "m1", "hello", base.Add(time.Minute)))
	err = repo.UpdateText(ctx, "c1", "m2", "nope", base)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	m1, err := repo.Get(ctx, "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, model.TextBody{Text: "hello"}, m1.Body)
	require.NotNil(t, m1.EditedAt)

	n, err := repo.Delete(ctx, "c1", []string{"m1", "m2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMessageRepository_DeleteBySenderBefore(t *testing.T) {
	db := getTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = repo.Insert(ctx, textMsg("c1", "old", "alice", "x", now.Add(-49*time.Hour)))
	_, _ = repo.Insert(ctx, textMsg("c1", "new", "alice", "y", now))
	_, _ = repo.Insert(ctx, textMsg("c1", "other", "bob", "z", now.Add(-49*time.Hour)))

	n, err := repo.DeleteBySenderBefore(ctx, "alice", now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func newPost(id, author string, created time.Time) *model.Post {
	return &model.Post{ID: id, AuthorID: author, AuthorName: author, Text: "status " + id,
		CreatedAt: created, ExpiresAt: created.Add(model.EphemeralTTL)}
}

func TestPostRepository_ArchiveRestoreAndComments(t *testing.T) {
	db := getTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newPost("p1", "owner", now)))

	prior, err := repo.AddComment(ctx, &model.Comment{ID: "k1", PostID: "p1", AuthorID: "bob", Text: "nice", CreatedAt: now})
	require.NoError(t, err)
	assert.Empty(t, prior)

	require.NoError(t, repo.Archive(ctx, "p1", "admin", now))
	active, err := repo.ListActive(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, active)

	// 归档中的动态仍可评论
	prior, err = repo.AddComment(ctx, &model.Comment{ID: "k2", PostID: "p1", AuthorID: "carol", Text: "+1",
		CreatedAt: now.Add(time.Second), ReplyTo: &model.CommentRef{CommentID: "k1", AuthorID: "bob", Text: "nice"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, prior)

	require.NoError(t, repo.Restore(ctx, "p1"))
	post, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, post.Archived)
	assert.Equal(t, int64(2), post.CommentCount)

	comments, err := repo.ListComments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "bob", comments[1].ReplyTo.AuthorID)

	err = repo.Restore(ctx, "p1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPostRepository_PurgeExpired(t *testing.T) {
	db := getTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newPost("old", "a", now.Add(-49*time.Hour))))
	require.NoError(t, repo.Create(ctx, newPost("old-archived", "a", now.Add(-50*time.Hour))))
	require.NoError(t, repo.Create(ctx, newPost("fresh", "a", now)))
	require.NoError(t, repo.Archive(ctx, "old-archived", "admin", now))
	_, err := repo.AddComment(ctx, &model.Comment{ID: "k1", PostID: "old", AuthorID: "b", Text: "x", CreatedAt: now})
	require.NoError(t, err)

	ids, err := repo.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "old-archived"}, ids)

	_, err = repo.GetComment(ctx, "old", "k1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	_, err = repo.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestNotificationRepository(t *testing.T) {
	db := getTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	list := []*model.Notification{
		{ID: "n1", RecipientID: "owner", SenderID: "bob", Kind: model.NotifyLike, PostID: "p1", CreatedAt: now.Add(-50 * time.Hour), ExpiresAt: now.Add(-2 * time.Hour)},
		{ID: "n2", RecipientID: "owner", SenderID: "bob", Kind: model.NotifyComment, PostID: "p1", CreatedAt: now, ExpiresAt: now.Add(model.EphemeralTTL)},
	}
	require.NoError(t, repo.InsertBatch(ctx, list))

	got, err := repo.ListForRecipient(ctx, "owner", now, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].ID)

	require.NoError(t, repo.MarkRead(ctx, "owner", "n2"))
	assert.True(t, apperrors.Is(repo.MarkRead(ctx, "stranger", "n2"), apperrors.ErrNotFound))

	n, err := repo.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
