package controllers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/middleware"
	"github.com/quillhq/quill/models"
	"github.com/quillhq/quill/utils"
)

// HomeFeedCacheKey holds the whole home feed response. Deliberately a single
// key with no page or query component: every viewer inside the TTL window sees
// the same snapshot, including posts deleted after it was taken.
const HomeFeedCacheKey = "cache:feed:index"

// PostController serves the home feed, post detail, and the post/comment forms.
type PostController struct {
	db    *gorm.DB
	cfg   config.AppConfig
	cache utils.Cache
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB, cfg config.AppConfig, cache utils.Cache) *PostController {
	return &PostController{db: db, cfg: cfg, cache: cache}
}

// postForm is what the create and edit forms submit. The author is never part
// of it; it is bound from the authenticated actor.
type postForm struct {
	Text    string `form:"text" json:"text"`
	GroupID *uint  `form:"group" json:"group"`
}

// Index returns the home feed: every post, newest first, with its group.
// The response is cached whole for a fixed window; expiry is time-based only.
func (p *PostController) Index(ctx *gin.Context) {
	if b, ok := p.cache.GetBytes(HomeFeedCacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	page := utils.ParsePage(ctx.Query("page"))

	var total int64
	if err := p.db.Model(&models.Post{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count posts")
		return
	}

	current, offset, totalPages := utils.Paginate(total, page, p.cfg.PageSize)

	var posts []models.Post
	if err := p.db.Preload("Author").Preload("Group").
		Order("published DESC").
		Offset(offset).Limit(p.cfg.PageSize).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list posts")
		return
	}

	payload := gin.H{
		"items":      posts,
		"pagination": utils.PageMeta(current, p.cfg.PageSize, totalPages, total),
	}
	utils.SetJSON(p.cache, HomeFeedCacheKey,
		utils.JSONResponse{Code: 0, Message: "success", Data: payload},
		time.Duration(p.cfg.CacheTTLSeconds)*time.Second)
	utils.Success(ctx, payload)
}

// GetPost returns a single post with its comments (newest first) and the
// author's total post count.
func (p *PostController) GetPost(ctx *gin.Context) {
	var post models.Post
	if err := p.db.Preload("Author").Preload("Group").First(&post, ctx.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load post")
		return
	}

	var comments []models.Comment
	if err := p.db.Preload("Author").
		Where("post_id = ?", post.ID).
		Order("created_at DESC").
		Find(&comments).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load comments")
		return
	}

	var authorPosts int64
	if err := p.db.Model(&models.Post{}).Where("author_id = ?", post.AuthorID).Count(&authorPosts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to count author posts")
		return
	}

	utils.Success(ctx, gin.H{
		"post":              post,
		"comments":          comments,
		"author_post_count": authorPosts,
	})
}

// CreateForm returns the data the post form needs: the selectable groups.
func (p *PostController) CreateForm(ctx *gin.Context) {
	var groups []models.Group
	if err := p.db.Order("title").Find(&groups).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to list groups")
		return
	}
	utils.Success(ctx, gin.H{"groups": groups})
}

// Create publishes a new post for the authenticated actor and redirects to
// their profile. The author comes from the session, never from the payload.
func (p *PostController) Create(ctx *gin.Context) {
	userID, username, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	var form postForm
	if err := ctx.ShouldBind(&form); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	text := utils.Sanitize(strings.TrimSpace(form.Text))
	if text == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "text cannot be empty")
		return
	}
	if form.GroupID != nil {
		var group models.Group
		if err := p.db.First(&group, *form.GroupID).Error; err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40022, "unknown group")
			return
		}
	}

	post := models.Post{
		Text:     text,
		AuthorID: userID,
		GroupID:  form.GroupID,
	}

	if file, err := ctx.FormFile("image"); err == nil {
		imagePath, err := p.saveImage(ctx, file)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40023, err.Error())
			return
		}
		post.Image = imagePath
	}

	if err := p.db.Create(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to create post")
		return
	}

	ctx.Redirect(http.StatusFound, "/profile/"+username)
}

// EditForm returns the post for editing. Non-authors are sent back to the
// post page instead of getting an error.
func (p *PostController) EditForm(ctx *gin.Context) {
	post, ok := p.loadOwnPost(ctx)
	if !ok {
		return
	}
	var groups []models.Group
	if err := p.db.Order("title").Find(&groups).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to list groups")
		return
	}
	utils.Success(ctx, gin.H{"post": post, "groups": groups})
}

// Update edits a post's text, group, and image. The publication timestamp is
// never touched. Only the original author gets here; everyone else is
// redirected to the post detail by loadOwnPost.
func (p *PostController) Update(ctx *gin.Context) {
	post, ok := p.loadOwnPost(ctx)
	if !ok {
		return
	}

	var form postForm
	if err := ctx.ShouldBind(&form); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}

	text := utils.Sanitize(strings.TrimSpace(form.Text))
	if text == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "text cannot be empty")
		return
	}
	if form.GroupID != nil {
		var group models.Group
		if err := p.db.First(&group, *form.GroupID).Error; err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40022, "unknown group")
			return
		}
	}

	updates := map[string]interface{}{
		"text":     text,
		"group_id": form.GroupID,
	}
	if file, err := ctx.FormFile("image"); err == nil {
		imagePath, err := p.saveImage(ctx, file)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40023, err.Error())
			return
		}
		updates["image"] = imagePath
	}

	if err := p.db.Model(&post).Updates(updates).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to update post")
		return
	}

	ctx.Redirect(http.StatusFound, fmt.Sprintf("/posts/%d", post.ID))
}

// AddComment attaches a comment to a post. Post and author are bound from the
// path and session so client-supplied identifiers cannot spoof either.
func (p *PostController) AddComment(ctx *gin.Context) {
	userID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	var post models.Post
	if err := p.db.First(&post, ctx.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load post")
		return
	}

	var form struct {
		Text string `form:"text" json:"text"`
	}
	if err := ctx.ShouldBind(&form); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40025, "invalid request payload")
		return
	}

	text := utils.Sanitize(strings.TrimSpace(form.Text))
	if text == "" {
		utils.Error(ctx, http.StatusBadRequest, 40026, "text cannot be empty")
		return
	}

	comment := models.Comment{
		PostID:   post.ID,
		AuthorID: userID,
		Text:     text,
	}
	if err := p.db.Create(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to create comment")
		return
	}

	ctx.Redirect(http.StatusFound, fmt.Sprintf("/posts/%d", post.ID))
}

// loadOwnPost fetches the addressed post and enforces authorship. A missing
// post is a 404; a foreign post redirects the actor away to the detail page.
func (p *PostController) loadOwnPost(ctx *gin.Context) (models.Post, bool) {
	var post models.Post
	if err := p.db.First(&post, ctx.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return post, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load post")
		return post, false
	}

	userID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return post, false
	}
	if post.AuthorID != userID {
		ctx.Redirect(http.StatusFound, fmt.Sprintf("/posts/%d", post.ID))
		return post, false
	}
	return post, true
}

func (p *PostController) saveImage(ctx *gin.Context, file *multipart.FileHeader) (string, error) {
	maxSize := int64(p.cfg.MaxUploadMB) * 1024 * 1024
	if file.Size > maxSize {
		return "", fmt.Errorf("image exceeds %dMB", p.cfg.MaxUploadMB)
	}

	dir := filepath.Join(p.cfg.MediaDir, "posts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare upload directory")
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	if err := ctx.SaveUploadedFile(file, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("failed to save image")
	}
	return "/media/posts/" + name, nil
}

func currentUser(ctx *gin.Context) (uint, string, bool) {
	idVal, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, "", false
	}
	id, ok := idVal.(uint)
	if !ok {
		return 0, "", false
	}
	name, _ := ctx.Get(middleware.ContextUsernameKey)
	username, _ := name.(string)
	return id, username, true
}
