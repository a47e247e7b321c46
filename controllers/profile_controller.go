package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/middleware"
	"github.com/quillhq/quill/models"
	"github.com/quillhq/quill/utils"
)

// ProfileController serves author profiles, the follow feed, and the
// follow/unfollow actions.
type ProfileController struct {
	db  *gorm.DB
	cfg config.AppConfig
}

// NewProfileController creates a new ProfileController instance.
func NewProfileController(db *gorm.DB, cfg config.AppConfig) *ProfileController {
	return &ProfileController{db: db, cfg: cfg}
}

// Profile returns an author's paginated posts plus whether the current viewer
// follows them and how many posts they have in total.
func (p *ProfileController) Profile(ctx *gin.Context) {
	author, ok := p.loadAuthor(ctx)
	if !ok {
		return
	}

	page := utils.ParsePage(ctx.Query("page"))

	var total int64
	if err := p.db.Model(&models.Post{}).Where("author_id = ?", author.ID).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to count author posts")
		return
	}

	current, offset, totalPages := utils.Paginate(total, page, p.cfg.PageSize)

	var posts []models.Post
	if err := p.db.Preload("Author").Preload("Group").
		Where("author_id = ?", author.ID).
		Order("published DESC").
		Offset(offset).Limit(p.cfg.PageSize).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to list author posts")
		return
	}

	following := false
	if viewerID, _, ok := currentUser(ctx); ok && viewerID != author.ID {
		var edges int64
		if err := p.db.Model(&models.Follow{}).
			Where("user_id = ? AND author_id = ?", viewerID, author.ID).
			Count(&edges).Error; err == nil {
			following = edges > 0
		}
	}

	utils.Success(ctx, gin.H{
		"author":     sanitizeUserResponse(author),
		"following":  following,
		"post_count": total,
		"items":      posts,
		"pagination": utils.PageMeta(current, p.cfg.PageSize, totalPages, total),
	})
}

// FollowIndex returns the aggregated feed of every author the viewer follows,
// newest first.
func (p *ProfileController) FollowIndex(ctx *gin.Context) {
	viewerID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	page := utils.ParsePage(ctx.Query("page"))

	followed := p.db.Model(&models.Follow{}).Select("author_id").Where("user_id = ?", viewerID)

	var total int64
	if err := p.db.Model(&models.Post{}).Where("author_id IN (?)", followed).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to count follow feed")
		return
	}

	current, offset, totalPages := utils.Paginate(total, page, p.cfg.PageSize)

	var posts []models.Post
	if err := p.db.Preload("Author").Preload("Group").
		Where("author_id IN (?)", followed).
		Order("published DESC").
		Offset(offset).Limit(p.cfg.PageSize).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50053, "failed to list follow feed")
		return
	}

	utils.Success(ctx, gin.H{
		"items":      posts,
		"pagination": utils.PageMeta(current, p.cfg.PageSize, totalPages, total),
	})
}

// Follow subscribes the viewer to an author. Following yourself is silently
// ignored; following twice leaves a single edge. The unique pair index is the
// backstop for concurrent calls. Always redirects to the author's profile.
func (p *ProfileController) Follow(ctx *gin.Context) {
	author, ok := p.loadAuthor(ctx)
	if !ok {
		return
	}
	viewerID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	if viewerID != author.ID {
		var edge models.Follow
		err := p.db.Where(models.Follow{UserID: viewerID, AuthorID: author.ID}).
			FirstOrCreate(&edge).Error
		if err != nil && utils.Sugar != nil {
			// A duplicate-key race lost to another request; the edge exists either way.
			utils.Sugar.Warnf("follow create user=%d author=%d: %v", viewerID, author.ID, err)
		}
	}

	ctx.Redirect(http.StatusFound, "/profile/"+author.Username)
}

// Unfollow removes the subscription if present and is a no-op otherwise.
// Always redirects to the author's profile.
func (p *ProfileController) Unfollow(ctx *gin.Context) {
	author, ok := p.loadAuthor(ctx)
	if !ok {
		return
	}
	viewerID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	if err := p.db.Where("user_id = ? AND author_id = ?", viewerID, author.ID).
		Delete(&models.Follow{}).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50054, "failed to unfollow")
		return
	}

	ctx.Redirect(http.StatusFound, "/profile/"+author.Username)
}

func (p *ProfileController) loadAuthor(ctx *gin.Context) (models.User, bool) {
	var author models.User
	if err := p.db.Where("username = ?", ctx.Param("username")).First(&author).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40405, "user not found")
			return author, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50055, "failed to load user")
		return author, false
	}
	return author, true
}
