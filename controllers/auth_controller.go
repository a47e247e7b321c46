package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"gorm.io/gorm"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/middleware"
	"github.com/quillhq/quill/models"
	"github.com/quillhq/quill/utils"
)

const (
	sessionDuration  = 72 * time.Hour
	oauthStatePrefix = "oauth:state:"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// AuthController handles registration, login, logout, and GitHub sign-in.
type AuthController struct {
	db    *gorm.DB
	cfg   config.AppConfig
	cache utils.Cache
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB, cfg config.AppConfig, cache utils.Cache) *AuthController {
	return &AuthController{db: db, cfg: cfg, cache: cache}
}

// Register creates a local account and signs the new user in.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required,min=6"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 3-30 letters, digits, '-' or '_'")
		return
	}

	var existing models.User
	if err := a.db.Where("username = ?", req.Username).First(&existing).Error; err == nil {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	}
	if err := a.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}

	a.issueSession(ctx, user)
}

// Login authenticates a local account.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	a.issueSession(ctx, user)
}

// LoginPage is the target of authentication redirects. It echoes the next
// parameter so a client can resume after signing in.
func (a *AuthController) LoginPage(ctx *gin.Context) {
	utils.Respond(ctx, http.StatusOK, 0, "login required", gin.H{"next": ctx.Query("next")})
}

// Logout blacklists the session token until its natural expiry and drops the cookie.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := bearerOrCookieToken(ctx)
	if token == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "no session token")
		return
	}

	expiresAt := time.Now().Add(sessionDuration)
	if claims, err := utils.ParseToken(a.cfg.JWTSecret, token); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.BlacklistToken(a.cache, token, expiresAt)

	ctx.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated user's own record.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, _, ok := currentUser(ctx)
	if !ok {
		ctx.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}
	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40406, "user not found")
		return
	}
	utils.Success(ctx, gin.H{"user": sanitizeUserResponse(user)})
}

// OAuthRedirect sends the browser to GitHub's consent screen with a one-time
// state stored server side.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	conf := a.githubConfig()
	if conf.ClientID == "" {
		utils.Error(ctx, http.StatusNotFound, 40407, "github sign-in not configured")
		return
	}

	state := uuid.NewString()
	a.cache.SetBytes(oauthStatePrefix+state, []byte("1"), 10*time.Minute)
	ctx.Redirect(http.StatusFound, conf.AuthCodeURL(state))
}

// OAuthCallback exchanges the code, fetches the GitHub identity, and signs the
// matching local user in, creating one on first visit.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	state := ctx.Query("state")
	if _, ok := a.cache.GetBytes(oauthStatePrefix + state); !ok {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid oauth state")
		return
	}
	a.cache.Delete(oauthStatePrefix + state)

	conf := a.githubConfig()
	token, err := conf.Exchange(ctx.Request.Context(), ctx.Query("code"))
	if err != nil {
		utils.Error(ctx, http.StatusBadGateway, 50210, "oauth exchange failed")
		return
	}

	ghUser, err := fetchGitHubUser(ctx, conf, token)
	if err != nil {
		utils.Error(ctx, http.StatusBadGateway, 50211, "failed to fetch github profile")
		return
	}

	user, err := a.findOrCreateGitHubUser(ghUser)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50212, "failed to sign in github user")
		return
	}

	a.issueSession(ctx, *user)
}

func (a *AuthController) issueSession(ctx *gin.Context, user models.User) {
	token, err := utils.GenerateToken(a.cfg.JWTSecret, user.ID, user.Username, sessionDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to generate token")
		return
	}

	ctx.SetCookie(middleware.SessionCookieName, token, int(sessionDuration.Seconds()), "/", "", false, true)
	utils.Success(ctx, gin.H{
		"token": token,
		"user":  sanitizeUserResponse(user),
	})
}

func (a *AuthController) githubConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.GitHubClientID,
		ClientSecret: a.cfg.GitHubClientSecret,
		Endpoint:     github.Endpoint,
		RedirectURL:  a.cfg.OAuthRedirectBase + "/auth/oauth/github/callback",
		Scopes:       []string{"read:user", "user:email"},
	}
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
}

func fetchGitHubUser(ctx *gin.Context, conf *oauth2.Config, token *oauth2.Token) (*githubUser, error) {
	client := conf.Client(ctx.Request.Context(), token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user endpoint returned %d", resp.StatusCode)
	}

	var gh githubUser
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, err
	}
	return &gh, nil
}

func (a *AuthController) findOrCreateGitHubUser(gh *githubUser) (*models.User, error) {
	providerID := strconv.FormatInt(gh.ID, 10)

	var user models.User
	err := a.db.Where("provider = ? AND provider_id = ?", "github", providerID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	user = models.User{
		Username:   a.ensureUniqueUsername(gh.Login, providerID),
		Email:      gh.Email,
		Provider:   "github",
		ProviderID: providerID,
		AvatarURL:  gh.AvatarURL,
	}
	if err := a.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ensureUniqueUsername derives a free local username from the provider login.
func (a *AuthController) ensureUniqueUsername(base, providerID string) string {
	base = strings.TrimSpace(base)
	if !usernamePattern.MatchString(base) {
		base = "gh-" + providerID
	}
	candidate := base
	for i := 1; i < 100; i++ {
		var existing models.User
		if err := a.db.Where("username = ?", candidate).First(&existing).Error; err == gorm.ErrRecordNotFound {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8]
}

// sanitizeUserResponse strips everything that is not public profile data.
func sanitizeUserResponse(user models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"avatar_url": user.AvatarURL,
		"created_at": user.CreatedAt,
	}
}

func bearerOrCookieToken(ctx *gin.Context) string {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := ctx.Cookie(middleware.SessionCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
