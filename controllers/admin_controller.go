package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/utils"
)

// AdminController exposes the small JSON API for site operators: group
// management, traffic counters and cache control.
type AdminController struct {
	db    *gorm.DB
	cache *utils.PageCache
}

// NewAdminController creates a new AdminController instance.
func NewAdminController(db *gorm.DB, cache *utils.PageCache) *AdminController {
	return &AdminController{db: db, cache: cache}
}

type createGroupRequest struct {
	Title       string `json:"title" binding:"required"`
	Slug        string `json:"slug" binding:"required"`
	Description string `json:"description"`
}

// CreateGroup adds a community. Slugs are lowercased and must be unique.
func (a *AdminController) CreateGroup(ctx *gin.Context) {
	var req createGroupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 1001, "title and slug are required")
		return
	}

	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !validSlug(slug) {
		utils.Error(ctx, http.StatusBadRequest, 1002, "slug may contain lowercase letters, digits and '-'")
		return
	}

	group := models.Group{
		Title:       utils.Sanitize(req.Title),
		Slug:        slug,
		Description: utils.Sanitize(req.Description),
	}
	if err := a.db.Create(&group).Error; err != nil {
		utils.Error(ctx, http.StatusConflict, 1003, "slug already in use")
		return
	}
	utils.Success(ctx, group)
}

// ClearPageCache drops every cached page immediately.
func (a *AdminController) ClearPageCache(ctx *gin.Context) {
	a.cache.Clear()
	utils.Success(ctx, gin.H{"cleared": true})
}

// Stats returns per-path view counters for the last week.
func (a *AdminController) Stats(ctx *gin.Context) {
	since := time.Now().AddDate(0, 0, -7)

	var rows []models.PageView
	if err := a.db.Where("date >= ?", since.Format("2006-01-02")).
		Order("date DESC, count DESC").
		Limit(200).
		Find(&rows).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 1004, "failed to load stats")
		return
	}

	var users, posts, comments int64
	a.db.Model(&models.User{}).Count(&users)
	a.db.Model(&models.Post{}).Count(&posts)
	a.db.Model(&models.Comment{}).Count(&comments)

	utils.Success(ctx, gin.H{
		"users":    users,
		"posts":    posts,
		"comments": comments,
		"views":    rows,
	})
}

func validSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return true
}
