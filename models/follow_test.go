package models

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &Group{}, &Post{}, &Comment{}, &Follow{}))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) User {
	t.Helper()
	u := User{Username: username, PasswordHash: "x"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func createTestPost(t *testing.T, db *gorm.DB, author User, text string) Post {
	t.Helper()
	p := Post{UserID: author.ID, Text: text}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func TestCreateFollowIdempotent(t *testing.T) {
	db := newTestDB(t)
	reader := createTestUser(t, db, "reader")
	author := createTestUser(t, db, "author")

	require.NoError(t, CreateFollow(db, reader.ID, author.ID))
	require.NoError(t, CreateFollow(db, reader.ID, author.ID))

	var n int64
	require.NoError(t, db.Model(&Follow{}).Where("user_id = ? AND author_id = ?", reader.ID, author.ID).Count(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestCreateFollowSelf(t *testing.T) {
	db := newTestDB(t)
	u := createTestUser(t, db, "narcissus")

	err := CreateFollow(db, u.ID, u.ID)
	require.ErrorIs(t, err, ErrSelfFollow)

	var n int64
	require.NoError(t, db.Model(&Follow{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestDeleteFollowMissingEdge(t *testing.T) {
	db := newTestDB(t)
	reader := createTestUser(t, db, "reader")
	author := createTestUser(t, db, "author")

	// Never followed: delete must not error.
	require.NoError(t, DeleteFollow(db, reader.ID, author.ID))

	require.NoError(t, CreateFollow(db, reader.ID, author.ID))
	require.NoError(t, DeleteFollow(db, reader.ID, author.ID))

	following, err := IsFollowing(db, reader.ID, author.ID)
	require.NoError(t, err)
	require.False(t, following)
}

func TestIsFollowing(t *testing.T) {
	db := newTestDB(t)
	reader := createTestUser(t, db, "reader")
	author := createTestUser(t, db, "author")

	following, err := IsFollowing(db, reader.ID, author.ID)
	require.NoError(t, err)
	require.False(t, following)

	require.NoError(t, CreateFollow(db, reader.ID, author.ID))

	following, err = IsFollowing(db, reader.ID, author.ID)
	require.NoError(t, err)
	require.True(t, following)
}

func TestFollowedPosts(t *testing.T) {
	db := newTestDB(t)
	reader := createTestUser(t, db, "reader")
	followed := createTestUser(t, db, "followed")
	stranger := createTestUser(t, db, "stranger")

	createTestPost(t, db, followed, "первый")
	createTestPost(t, db, followed, "второй")
	createTestPost(t, db, stranger, "чужой")

	require.NoError(t, CreateFollow(db, reader.ID, followed.ID))

	var posts []Post
	require.NoError(t, FollowedPosts(db, reader.ID).Find(&posts).Error)
	require.Len(t, posts, 2)
	for _, p := range posts {
		require.Equal(t, followed.ID, p.UserID)
	}

	// The stranger's own feed is empty: nothing followed yet.
	var empty []Post
	require.NoError(t, FollowedPosts(db, stranger.ID).Find(&empty).Error)
	require.Empty(t, empty)
}

func TestFollowedPostsAfterUnfollow(t *testing.T) {
	db := newTestDB(t)
	reader := createTestUser(t, db, "reader")
	author := createTestUser(t, db, "author")
	createTestPost(t, db, author, "пост")

	require.NoError(t, CreateFollow(db, reader.ID, author.ID))
	require.NoError(t, DeleteFollow(db, reader.ID, author.ID))

	var posts []Post
	require.NoError(t, FollowedPosts(db, reader.ID).Find(&posts).Error)
	require.Empty(t, posts)
}
