package controllers_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quill/models"
)

func TestCreatePostBindsAuthorFromSession(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	intruder := e.createUser(t, "mallory")

	form := url.Values{}
	form.Set("text", "hello world")
	// Client-supplied author identifiers must be ignored.
	form.Set("author_id", "999")
	form.Set("author", intruder.Username)

	w := e.postForm("/create", form, e.token(t, alice))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/profile/alice", w.Header().Get("Location"))

	var posts []models.Post
	require.NoError(t, e.db.Find(&posts).Error)
	require.Len(t, posts, 1)
	assert.Equal(t, alice.ID, posts[0].AuthorID)
	assert.Equal(t, "hello world", posts[0].Text)
	assert.False(t, posts[0].Published.IsZero())
}

func TestCreatePostEmptyTextFails(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")

	form := url.Values{}
	form.Set("text", "   ")
	w := e.postForm("/create", form, e.token(t, alice))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, e.db.Model(&models.Post{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreatePostUnknownGroupFails(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")

	form := url.Values{}
	form.Set("text", "hello")
	form.Set("group", "42")
	w := e.postForm("/create", form, e.token(t, alice))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePostRequiresLogin(t *testing.T) {
	e := newEnv(t)

	form := url.Values{}
	form.Set("text", "hello")
	w := e.postForm("/create", form, "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login?next=%2Fcreate", w.Header().Get("Location"))
}

func TestEditPostByAuthor(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	published := time.Now().Add(-time.Hour)
	post := e.createPost(t, alice, "original", nil, published)

	form := url.Values{}
	form.Set("text", "edited")
	w := e.postForm("/posts/1/edit", form, e.token(t, alice))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/posts/1", w.Header().Get("Location"))

	var count int64
	require.NoError(t, e.db.Model(&models.Post{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "editing must not create a new post")

	var got models.Post
	require.NoError(t, e.db.First(&got, post.ID).Error)
	assert.Equal(t, "edited", got.Text)
	assert.True(t, got.Published.Equal(post.Published), "publication time is immutable")
}

func TestEditPostByOtherUserRedirectsAway(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")
	post := e.createPost(t, alice, "original", nil, time.Now())

	form := url.Values{}
	form.Set("text", "hijacked")
	w := e.postForm("/posts/1/edit", form, e.token(t, bob))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/posts/1", w.Header().Get("Location"))

	var got models.Post
	require.NoError(t, e.db.First(&got, post.ID).Error)
	assert.Equal(t, "original", got.Text)
}

func TestPostDetail(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")
	post := e.createPost(t, alice, "the post", nil, time.Now().Add(-time.Hour))
	e.createPost(t, alice, "another by alice", nil, time.Now())

	older := models.Comment{PostID: post.ID, AuthorID: bob.ID, Text: "first", CreatedAt: time.Now().Add(-time.Minute)}
	newer := models.Comment{PostID: post.ID, AuthorID: alice.ID, Text: "second", CreatedAt: time.Now()}
	require.NoError(t, e.db.Create(&older).Error)
	require.NoError(t, e.db.Create(&newer).Error)

	w := e.get("/posts/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Post            feedItem          `json:"post"`
		Comments        []json.RawMessage `json:"comments"`
		AuthorPostCount int64             `json:"author_post_count"`
	}
	decodeData(t, decodeEnvelope(t, w.Body), &data)
	assert.Equal(t, "the post", data.Post.Text)
	assert.EqualValues(t, 2, data.AuthorPostCount)
	require.Len(t, data.Comments, 2)

	var first struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(data.Comments[0], &first))
	assert.Equal(t, "second", first.Text, "comments come newest first")
}

func TestPostDetailNotFound(t *testing.T) {
	e := newEnv(t)
	w := e.get("/posts/9999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddCommentBindsPostAndAuthorFromRequestContext(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	bob := e.createUser(t, "bob")
	post := e.createPost(t, alice, "commented on", nil, time.Now())
	other := e.createPost(t, alice, "left alone", nil, time.Now())

	form := url.Values{}
	form.Set("text", "nice post")
	// Spoofed identifiers must be ignored in favor of path and session.
	form.Set("post", "2")
	form.Set("author", "999")

	w := e.postForm("/posts/1/comment", form, e.token(t, bob))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/posts/1", w.Header().Get("Location"))

	var comments []models.Comment
	require.NoError(t, e.db.Find(&comments).Error)
	require.Len(t, comments, 1)
	assert.Equal(t, post.ID, comments[0].PostID)
	assert.Equal(t, bob.ID, comments[0].AuthorID)

	var onOther int64
	require.NoError(t, e.db.Model(&models.Comment{}).Where("post_id = ?", other.ID).Count(&onOther).Error)
	assert.Zero(t, onOther)
}

func TestAddCommentEmptyTextFails(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	e.createPost(t, alice, "a post", nil, time.Now())

	form := url.Values{}
	form.Set("text", "")
	w := e.postForm("/posts/1/comment", form, e.token(t, alice))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHomeFeedCachedSnapshotOutlivesDeletion(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	post := e.createPost(t, alice, "soon deleted", nil, time.Now())

	w := e.get("/", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "soon deleted")

	require.NoError(t, e.db.Delete(&post).Error)

	// Within the cache window the deleted post is still served.
	w = e.get("/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "soon deleted")

	// The cache key ignores the query string entirely.
	w2 := e.get("/?page=2", "")
	assert.Equal(t, w.Body.String(), w2.Body.String())

	// An explicit clear drops the snapshot.
	e.cache.DeletePrefix("cache:feed:")
	w = e.get("/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "soon deleted")
}

func TestHomeFeedNewestFirst(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	e.createPost(t, alice, "older", nil, time.Now().Add(-time.Hour))
	e.createPost(t, alice, "newer", nil, time.Now())

	w := e.get("/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var data feedPayload
	decodeData(t, decodeEnvelope(t, w.Body), &data)
	require.Len(t, data.Items, 2)
	assert.Equal(t, "newer", data.Items[0].Text)
	assert.Equal(t, "older", data.Items[1].Text)
}

func TestUnknownRouteReturnsNotFoundPage(t *testing.T) {
	e := newEnv(t)
	w := e.get("/no/such/page", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w.Body)
	assert.Equal(t, 40400, env.Code)
}
