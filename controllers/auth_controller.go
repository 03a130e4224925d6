package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/utils"
)

// AuthController handles signup, login/logout and third-party sign-in.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// LoginPage renders the login form. The next parameter survives into the form
// so a successful login returns the visitor where they were headed.
func (a *AuthController) LoginPage(ctx *gin.Context) {
	cfg := config.Get()
	ctx.HTML(http.StatusOK, "login.html", gin.H{
		"next":   safeNext(ctx.Query("next")),
		"github": cfg.GitHubClientID != "",
		"google": cfg.GoogleClientID != "",
	})
}

// Login verifies credentials and opens a session cookie.
func (a *AuthController) Login(ctx *gin.Context) {
	username := strings.TrimSpace(ctx.PostForm("username"))
	password := ctx.PostForm("password")
	next := safeNext(ctx.PostForm("next"))

	fail := func() {
		cfg := config.Get()
		ctx.HTML(http.StatusOK, "login.html", gin.H{
			"error":    "Неверное имя пользователя или пароль",
			"username": username,
			"next":     next,
			"github":   cfg.GitHubClientID != "",
			"google":   cfg.GoogleClientID != "",
		})
	}

	if username == "" || password == "" {
		fail()
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", username).First(&user).Error; err != nil {
		fail()
		return
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		fail()
		return
	}

	if err := a.openSession(ctx, user); err != nil {
		renderServerError(ctx)
		return
	}
	ctx.Redirect(http.StatusFound, next)
}

// SignupPage renders the registration form, with a captcha when enabled.
func (a *AuthController) SignupPage(ctx *gin.Context) {
	data := gin.H{}
	if config.Get().SignupCaptchaEnabled {
		if id, image, err := utils.GenerateCaptcha(); err == nil {
			data["captcha_id"] = id
			data["captcha_image"] = image
		}
	}
	ctx.HTML(http.StatusOK, "signup.html", data)
}

// Signup registers a local account and opens a session. Abuse counters and the
// optional captcha run before anything touches the store.
func (a *AuthController) Signup(ctx *gin.Context) {
	cfg := config.Get()
	username := strings.TrimSpace(ctx.PostForm("username"))
	email := strings.TrimSpace(ctx.PostForm("email"))
	password := ctx.PostForm("password")

	fail := func(message string) {
		data := gin.H{
			"error":    message,
			"username": username,
			"email":    email,
		}
		if cfg.SignupCaptchaEnabled {
			if id, image, err := utils.GenerateCaptcha(); err == nil {
				data["captcha_id"] = id
				data["captcha_image"] = image
			}
		}
		ctx.HTML(http.StatusOK, "signup.html", data)
	}

	if !validUsername(username) || username == "" {
		fail("Имя пользователя может содержать буквы, цифры и дефис")
		return
	}
	if len(password) < 6 {
		fail("Пароль должен быть не короче 6 символов")
		return
	}

	if cfg.SignupCaptchaEnabled {
		if !utils.VerifyCaptcha(strings.TrimSpace(ctx.PostForm("captcha_id")), strings.TrimSpace(ctx.PostForm("captcha_answer"))) {
			fail("Код с картинки не совпадает")
			return
		}
	}

	ip := ctx.ClientIP()
	if utils.SignupIsBanned(ip) || !utils.SignupCooldownTry(ip) || !utils.SignupDailyLimitCheck(ip) {
		fail("Слишком много попыток, повторите позже")
		return
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		renderServerError(ctx)
		return
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		RegisterIP:   ip,
	}
	if err := a.db.Create(&user).Error; err != nil {
		fails := utils.SignupFailRecord(ip)
		if fails >= cfg.SignupFailedMaxPerIPPerHour {
			utils.SignupBan(ip)
		}
		fail("Имя пользователя уже занято")
		return
	}
	utils.SignupDailyIncrement(ip)

	if err := a.openSession(ctx, user); err != nil {
		renderServerError(ctx)
		return
	}
	ctx.Redirect(http.StatusFound, "/")
}

// Logout revokes the session token and clears the cookie.
func (a *AuthController) Logout(ctx *gin.Context) {
	if token, err := ctx.Cookie(utils.SessionCookieName); err == nil && token != "" {
		expiresAt := time.Now().Add(utils.SessionDuration)
		if claims, err := utils.ParseToken(token); err == nil && claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
		utils.BlacklistToken(token, expiresAt)
	}
	ctx.SetCookie(utils.SessionCookieName, "", -1, "/", "", false, true)
	ctx.Redirect(http.StatusFound, "/")
}

// OAuthRedirect sends the visitor to the provider's consent screen.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	cfg, err := a.oauthConfig(ctx.Param("provider"))
	if err != nil {
		renderNotFound(ctx)
		return
	}

	state := uuid.NewString()
	utils.SaveState(state, 10*time.Minute)
	ctx.Redirect(http.StatusFound, cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))
}

// OAuthCallback exchanges the authorization code for an identity and opens a
// session, creating the local account on first sign-in.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := ctx.Param("provider")
	code := ctx.Query("code")
	state := ctx.Query("state")

	if code == "" || state == "" || !utils.ConsumeState(state) {
		renderNotFound(ctx)
		return
	}

	cfg, err := a.oauthConfig(provider)
	if err != nil {
		renderNotFound(ctx)
		return
	}

	token, err := cfg.Exchange(context.Background(), code)
	if err != nil {
		renderServerError(ctx)
		return
	}

	info, err := a.fetchOAuthUser(provider, token)
	if err != nil {
		renderServerError(ctx)
		return
	}

	user, err := a.findOrCreateOAuthUser(provider, info)
	if err != nil {
		renderServerError(ctx)
		return
	}

	if err := a.openSession(ctx, *user); err != nil {
		renderServerError(ctx)
		return
	}
	ctx.Redirect(http.StatusFound, "/")
}

// openSession issues a session token and sets the cookie.
func (a *AuthController) openSession(ctx *gin.Context, user models.User) error {
	token, err := utils.GenerateToken(user.ID, user.Username, utils.SessionDuration)
	if err != nil {
		return err
	}
	ctx.SetCookie(utils.SessionCookieName, token, int(utils.SessionDuration.Seconds()), "/", "", false, true)
	return nil
}

func (a *AuthController) oauthConfig(provider string) (*oauth2.Config, error) {
	cfg := config.Get()
	switch strings.ToLower(provider) {
	case "github":
		if cfg.GitHubClientID == "" || cfg.GitHubClientSecret == "" {
			return nil, fmt.Errorf("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  fmt.Sprintf("%s/auth/oauth/github/callback/", cfg.OAuthRedirectBase),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return nil, fmt.Errorf("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  fmt.Sprintf("%s/auth/oauth/google/callback/", cfg.OAuthRedirectBase),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

type oauthUser struct {
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

func (a *AuthController) fetchOAuthUser(provider string, token *oauth2.Token) (*oauthUser, error) {
	switch strings.ToLower(provider) {
	case "github":
		return fetchGitHubUser(token)
	case "google":
		return fetchGoogleUser(token)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func (a *AuthController) findOrCreateOAuthUser(provider string, data *oauthUser) (*models.User, error) {
	var user models.User
	err := a.db.Where("provider = ? AND provider_id = ?", provider, data.ID).First(&user).Error
	if err == nil {
		_ = a.db.Model(&user).Updates(map[string]interface{}{
			"email":      strings.TrimSpace(data.Email),
			"avatar_url": data.AvatarURL,
		})
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Username:   a.ensureUniqueUsername(data.Username, provider, data.ID),
		Email:      strings.TrimSpace(data.Email),
		Provider:   provider,
		ProviderID: data.ID,
		AvatarURL:  data.AvatarURL,
		RegisterIP: "oauth",
	}
	if err := a.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func fetchGitHubUser(token *oauth2.Token) (*oauthUser, error) {
	req, _ := http.NewRequest("GET", "https://api.github.com/user", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user info request failed: %s", resp.Status)
	}

	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	return &oauthUser{
		ID:        fmt.Sprintf("%d", payload.ID),
		Username:  payload.Login,
		Email:     payload.Email,
		AvatarURL: payload.AvatarURL,
	}, nil
}

func fetchGoogleUser(token *oauth2.Token) (*oauthUser, error) {
	req, _ := http.NewRequest("GET", "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google user info request failed: %s", resp.Status)
	}

	var payload struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	return &oauthUser{
		ID:        payload.ID,
		Username:  strings.SplitN(payload.Email, "@", 2)[0],
		Email:     payload.Email,
		AvatarURL: payload.Picture,
	}, nil
}

// ensureUniqueUsername derives a free local username for an OAuth identity.
func (a *AuthController) ensureUniqueUsername(base, provider, id string) string {
	candidate := sanitizeUsername(base)
	if candidate == "" {
		candidate = provider + "_" + id
	}
	name := candidate
	for i := 0; i < 10; i++ {
		var n int64
		if err := a.db.Model(&models.User{}).Where("username = ?", name).Count(&n).Error; err == nil && n == 0 {
			return name
		}
		name = fmt.Sprintf("%s_%d", candidate, i+1)
	}
	return candidate + "_" + uuid.NewString()[:8]
}

func sanitizeUsername(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var b strings.Builder
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// validUsername allows letters, digits and '-' only.
func validUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '-' {
			continue
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		return false
	}
	return true
}

// safeNext keeps redirects on-site: only absolute local paths pass through.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}
