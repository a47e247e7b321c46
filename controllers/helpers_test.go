package controllers_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/middleware"
	"github.com/quillhq/quill/models"
	"github.com/quillhq/quill/routes"
	"github.com/quillhq/quill/utils"
)

type env struct {
	db     *gorm.DB
	cache  *utils.MemoryCache
	cfg    config.AppConfig
	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.Migrate(db))

	cfg := config.AppConfig{
		JWTSecret:          "test-secret",
		PageSize:           10,
		CacheTTLSeconds:    20,
		MediaDir:           t.TempDir(),
		MaxUploadMB:        10,
		RateLimitPerMinute: 100000,
		AllowedOrigins:     []string{"*"},
		AdminUsernames:     []string{"root"},
		GinMode:            "test",
	}
	cache := utils.NewMemoryCache()

	return &env{
		db:     db,
		cache:  cache,
		cfg:    cfg,
		router: routes.SetupRouter(db, cfg, cache),
	}
}

func (e *env) createUser(t *testing.T, username string) models.User {
	t.Helper()
	hash, err := utils.HashPassword("password123")
	require.NoError(t, err)
	user := models.User{Username: username, PasswordHash: hash}
	require.NoError(t, e.db.Create(&user).Error)
	return user
}

func (e *env) token(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(e.cfg.JWTSecret, user.ID, user.Username, time.Hour)
	require.NoError(t, err)
	return token
}

// createPost inserts a post directly with a controlled publication time so
// feed-ordering assertions are deterministic.
func (e *env) createPost(t *testing.T, author models.User, text string, groupID *uint, published time.Time) models.Post {
	t.Helper()
	post := models.Post{Text: text, AuthorID: author.ID, GroupID: groupID, Published: published}
	require.NoError(t, e.db.Create(&post).Error)
	return post
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) get(target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	withToken(req, token)
	return e.do(req)
}

func (e *env) postForm(target string, form url.Values, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	withToken(req, token)
	return e.do(req)
}

func (e *env) postJSON(target string, body any, token string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	withToken(req, token)
	return e.do(req)
}

func withToken(req *http.Request, token string) {
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, body io.Reader) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.NewDecoder(body).Decode(&e))
	return e
}

func decodeData(t *testing.T, e envelope, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, out))
}

type feedItem struct {
	ID     uint   `json:"id"`
	Text   string `json:"text"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
	Group *struct {
		Slug string `json:"slug"`
	} `json:"group"`
}

type feedPayload struct {
	Items      []feedItem `json:"items"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}
