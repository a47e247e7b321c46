package controllers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/models"
	"github.com/quillhq/quill/utils"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{1,40}$`)

// GroupController serves the per-group feed and group administration.
type GroupController struct {
	db  *gorm.DB
	cfg config.AppConfig
}

// NewGroupController creates a new GroupController instance.
func NewGroupController(db *gorm.DB, cfg config.AppConfig) *GroupController {
	return &GroupController{db: db, cfg: cfg}
}

// Posts returns the paginated feed of a group addressed by slug, newest first.
func (g *GroupController) Posts(ctx *gin.Context) {
	var group models.Group
	if err := g.db.Where("slug = ?", ctx.Param("slug")).First(&group).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40404, "group not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load group")
		return
	}

	page := utils.ParsePage(ctx.Query("page"))

	q := g.db.Model(&models.Post{}).Where("group_id = ?", group.ID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to count group posts")
		return
	}

	current, offset, totalPages := utils.Paginate(total, page, g.cfg.PageSize)

	var posts []models.Post
	if err := g.db.Preload("Author").Preload("Group").
		Where("group_id = ?", group.ID).
		Order("published DESC").
		Offset(offset).Limit(g.cfg.PageSize).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to list group posts")
		return
	}

	utils.Success(ctx, gin.H{
		"group":      group,
		"items":      posts,
		"pagination": utils.PageMeta(current, g.cfg.PageSize, totalPages, total),
	})
}

// Create registers a new group. Slugs are lowercase URL-safe and unique.
func (g *GroupController) Create(ctx *gin.Context) {
	var req struct {
		Title       string `form:"title" json:"title" binding:"required"`
		Slug        string `form:"slug" json:"slug" binding:"required"`
		Description string `form:"description" json:"description"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request payload")
		return
	}

	title := utils.Sanitize(strings.TrimSpace(req.Title))
	slug := strings.TrimSpace(req.Slug)
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40041, "title cannot be empty")
		return
	}
	if !slugPattern.MatchString(slug) {
		utils.Error(ctx, http.StatusBadRequest, 40042, "slug must be 1-40 lowercase letters, digits, or '-'")
		return
	}

	group := models.Group{
		Title:       title,
		Slug:        slug,
		Description: utils.Sanitize(req.Description),
	}
	// The unique index is the arbiter, so concurrent creates of the same slug
	// resolve to one winner and one conflict rather than a scan race.
	if err := g.db.Create(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, 40940, "slug already exists")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to create group")
		return
	}

	utils.Success(ctx, gin.H{"group": group})
}

// Delete removes a group. Its posts survive with the group reference nulled
// by the storage layer. Restricted to configured admins.
func (g *GroupController) Delete(ctx *gin.Context) {
	if !g.isAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40340, "admin access required")
		return
	}

	var group models.Group
	if err := g.db.Where("slug = ?", ctx.Param("slug")).First(&group).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40404, "group not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load group")
		return
	}

	if err := g.db.Delete(&group).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50044, "failed to delete group")
		return
	}

	utils.Success(ctx, gin.H{"message": "group deleted"})
}

func (g *GroupController) isAdmin(ctx *gin.Context) bool {
	_, username, ok := currentUser(ctx)
	if !ok || username == "" {
		return false
	}
	for _, u := range g.cfg.AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), username) {
			return true
		}
	}
	return false
}
