package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSelfFollow is returned when a user attempts to subscribe to themself.
var ErrSelfFollow = errors.New("cannot follow yourself")

// Follow is a directed subscription edge: UserID reads the posts of AuthorID.
// The pair is unique, so repeated follows collapse into one edge.
type Follow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_follows_user_author" json:"user_id"`
	AuthorID  uint      `gorm:"not null;index;uniqueIndex:idx_follows_user_author" json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateFollow inserts a follow edge with get-or-create semantics. The insert
// rides on the unique index, so concurrent duplicates still leave one row.
// Self-follows are rejected and never reach the store.
func CreateFollow(db *gorm.DB, userID, authorID uint) error {
	if userID == authorID {
		return ErrSelfFollow
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "author_id"}},
		DoNothing: true,
	}).Create(&Follow{UserID: userID, AuthorID: authorID}).Error
}

// DeleteFollow removes the edge if present. Deleting a missing edge is a no-op.
func DeleteFollow(db *gorm.DB, userID, authorID uint) error {
	return db.Where("user_id = ? AND author_id = ?", userID, authorID).Delete(&Follow{}).Error
}

// IsFollowing reports whether userID holds an edge to authorID.
func IsFollowing(db *gorm.DB, userID, authorID uint) (bool, error) {
	var n int64
	err := db.Model(&Follow{}).Where("user_id = ? AND author_id = ?", userID, authorID).Count(&n).Error
	return n > 0, err
}

// FollowedPosts scopes a query to posts authored by users that userID follows,
// newest first. Callers chain pagination on top.
func FollowedPosts(db *gorm.DB, userID uint) *gorm.DB {
	sub := db.Model(&Follow{}).Select("author_id").Where("user_id = ?", userID)
	return db.Model(&Post{}).Where("user_id IN (?)", sub).Order("created_at DESC")
}
