package models_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.Migrate(db))
	return db
}

func TestFollowPairUnique(t *testing.T) {
	db := openTestDB(t)
	alice := models.User{Username: "alice"}
	bob := models.User{Username: "bob"}
	require.NoError(t, db.Create(&alice).Error)
	require.NoError(t, db.Create(&bob).Error)

	require.NoError(t, db.Create(&models.Follow{UserID: alice.ID, AuthorID: bob.ID}).Error)
	err := db.Create(&models.Follow{UserID: alice.ID, AuthorID: bob.ID}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey, "duplicate follow edge must be rejected by the unique index")

	// The reverse direction is a different edge.
	require.NoError(t, db.Create(&models.Follow{UserID: bob.ID, AuthorID: alice.ID}).Error)
}

func TestGroupSlugUnique(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Create(&models.Group{Title: "First", Slug: "test-slug"}).Error)
	err := db.Create(&models.Group{Title: "Second", Slug: "test-slug"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestGroupDeleteNullsPostReference(t *testing.T) {
	db := openTestDB(t)
	author := models.User{Username: "alice"}
	require.NoError(t, db.Create(&author).Error)
	group := models.Group{Title: "Cats", Slug: "cats"}
	require.NoError(t, db.Create(&group).Error)

	post := models.Post{Text: "stays behind", AuthorID: author.ID, GroupID: &group.ID}
	require.NoError(t, db.Create(&post).Error)

	require.NoError(t, db.Delete(&group).Error)

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Nil(t, got.GroupID, "deleting a group must null the reference, not the post")
	assert.Equal(t, "stays behind", got.Text)
}

func TestPostDeleteCascadesComments(t *testing.T) {
	db := openTestDB(t)
	author := models.User{Username: "alice"}
	require.NoError(t, db.Create(&author).Error)
	post := models.Post{Text: "short lived", AuthorID: author.ID}
	require.NoError(t, db.Create(&post).Error)
	require.NoError(t, db.Create(&models.Comment{PostID: post.ID, AuthorID: author.ID, Text: "hi"}).Error)

	require.NoError(t, db.Delete(&post).Error)

	var comments int64
	require.NoError(t, db.Model(&models.Comment{}).Where("post_id = ?", post.ID).Count(&comments).Error)
	assert.Zero(t, comments)
}

func TestAuthorDeleteCascadesPostsAndFollows(t *testing.T) {
	db := openTestDB(t)
	alice := models.User{Username: "alice"}
	bob := models.User{Username: "bob"}
	require.NoError(t, db.Create(&alice).Error)
	require.NoError(t, db.Create(&bob).Error)
	require.NoError(t, db.Create(&models.Post{Text: "bye", AuthorID: bob.ID}).Error)
	require.NoError(t, db.Create(&models.Follow{UserID: alice.ID, AuthorID: bob.ID}).Error)

	// Users are soft-deleted in the app; the cascade fires on a hard delete.
	require.NoError(t, db.Unscoped().Delete(&bob).Error)

	var posts, follows int64
	require.NoError(t, db.Model(&models.Post{}).Where("author_id = ?", bob.ID).Count(&posts).Error)
	require.NoError(t, db.Model(&models.Follow{}).Where("author_id = ?", bob.ID).Count(&follows).Error)
	assert.Zero(t, posts)
	assert.Zero(t, follows)
}

func TestPostPublishedStampedOnCreate(t *testing.T) {
	db := openTestDB(t)
	author := models.User{Username: "alice"}
	require.NoError(t, db.Create(&author).Error)

	before := time.Now().Add(-time.Second)
	post := models.Post{Text: "hello", AuthorID: author.ID}
	require.NoError(t, db.Create(&post).Error)
	assert.True(t, post.Published.After(before), "publication time must be stamped at creation")
}
