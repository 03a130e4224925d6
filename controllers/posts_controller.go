package controllers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/forms"
	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/utils"
)

// PostsController serves every content page: listings, the post form,
// profiles, comments and the subscription machinery.
type PostsController struct {
	db *gorm.DB
}

// NewPostsController creates a new PostsController instance.
func NewPostsController(db *gorm.DB) *PostsController {
	return &PostsController{db: db}
}

// Index renders the global post listing, newest first. The page cache
// middleware sits in front of this handler in the router.
func (p *PostsController) Index(ctx *gin.Context) {
	q := p.db.Model(&models.Post{}).Preload("User").Preload("Group").Order("created_at DESC")

	var posts []models.Post
	paginator, err := paginate(q, parsePage(ctx.Query("page")), postsPerPage, &posts)
	if err != nil {
		renderServerError(ctx)
		return
	}

	ctx.HTML(http.StatusOK, "index.html", gin.H{
		"page":      posts,
		"paginator": paginator,
		"user":      viewerName(ctx),
	})
}

// GroupIndex renders the paginated list of all groups.
func (p *PostsController) GroupIndex(ctx *gin.Context) {
	q := p.db.Model(&models.Group{}).Order("id")

	var groups []models.Group
	paginator, err := paginate(q, parsePage(ctx.Query("page")), groupsPerPage, &groups)
	if err != nil {
		renderServerError(ctx)
		return
	}

	ctx.HTML(http.StatusOK, "groups_index.html", gin.H{
		"page":      groups,
		"paginator": paginator,
		"user":      viewerName(ctx),
	})
}

// GroupDetail renders one group and its posts. Unknown slugs answer 404.
func (p *PostsController) GroupDetail(ctx *gin.Context) {
	slug := ctx.Param("slug")

	var group models.Group
	if err := p.db.Where("slug = ?", slug).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			renderNotFound(ctx)
			return
		}
		renderServerError(ctx)
		return
	}

	q := p.db.Model(&models.Post{}).Where("group_id = ?", group.ID).
		Preload("User").Order("created_at DESC")

	var posts []models.Post
	paginator, err := paginate(q, parsePage(ctx.Query("page")), postsPerPage, &posts)
	if err != nil {
		renderServerError(ctx)
		return
	}

	ctx.HTML(http.StatusOK, "group.html", gin.H{
		"group":     group,
		"page":      posts,
		"paginator": paginator,
		"user":      viewerName(ctx),
	})
}

// NewPost renders the empty post form.
func (p *PostsController) NewPost(ctx *gin.Context) {
	p.renderPostForm(ctx, gin.H{})
}

// CreatePost validates the submitted form and persists a post owned by the
// requester. Invalid input re-renders the form; nothing is written.
func (p *PostsController) CreatePost(ctx *gin.Context) {
	userID, ok := viewerID(ctx)
	if !ok {
		renderServerError(ctx)
		return
	}

	form := forms.PostForm{
		Text:    ctx.PostForm("text"),
		GroupID: ctx.PostForm("group"),
		Image:   formFile(ctx, "image"),
	}

	data, errs := form.Validate(p.db)
	if errs.Any() {
		p.renderPostForm(ctx, gin.H{
			"text":   form.Text,
			"group":  form.GroupID,
			"errors": errs,
		})
		return
	}

	imageURL, imagePath, err := p.saveImage(form.Image, data.ImageExt)
	if err != nil {
		renderServerError(ctx)
		return
	}

	post := models.Post{
		UserID:   userID,
		GroupID:  data.GroupID,
		Text:     data.Text,
		ImageURL: imageURL,
	}
	if err := p.db.Create(&post).Error; err != nil {
		// Keep the store and the disk consistent: no row, no file.
		if imagePath != "" {
			_ = os.Remove(imagePath)
		}
		renderServerError(ctx)
		return
	}

	ctx.Redirect(http.StatusFound, "/")
}

// Profile renders an author page with their posts and the follow state of the
// current visitor. Unknown usernames answer 404.
func (p *PostsController) Profile(ctx *gin.Context) {
	author, ok := p.findAuthor(ctx)
	if !ok {
		return
	}

	q := p.db.Model(&models.Post{}).Where("user_id = ?", author.ID).
		Preload("User").Preload("Group").Order("created_at DESC")

	var posts []models.Post
	paginator, err := paginate(q, parsePage(ctx.Query("page")), postsPerPage, &posts)
	if err != nil {
		renderServerError(ctx)
		return
	}

	var followerCount int64
	if err := p.db.Model(&models.Follow{}).Where("author_id = ?", author.ID).Count(&followerCount).Error; err != nil {
		renderServerError(ctx)
		return
	}

	following := false
	isSelf := false
	uid, authed := viewerID(ctx)
	if authed {
		isSelf = uid == author.ID
		if !isSelf {
			if following, err = models.IsFollowing(p.db, uid, author.ID); err != nil {
				renderServerError(ctx)
				return
			}
		}
	}

	ctx.HTML(http.StatusOK, "profile.html", gin.H{
		"author":    author,
		"page":      posts,
		"paginator": paginator,
		"followers": followerCount,
		"following": following,
		"is_self":   isSelf,
		"viewer":    viewerName(ctx),
		"user":      viewerName(ctx),
	})
}

// PostDetail renders one post with its comments and the comment form.
// The post id must belong to the username in the path, otherwise 404.
func (p *PostsController) PostDetail(ctx *gin.Context) {
	post, ok := p.findPost(ctx)
	if !ok {
		return
	}

	var comments []models.Comment
	if err := p.db.Where("post_id = ?", post.ID).Preload("User").
		Order("created_at").Find(&comments).Error; err != nil {
		renderServerError(ctx)
		return
	}

	uid, authed := viewerID(ctx)
	ctx.HTML(http.StatusOK, "post.html", gin.H{
		"post":      post,
		"author":    post.User,
		"comments":  comments,
		"viewer":    viewerName(ctx),
		"user":      viewerName(ctx),
		"is_author": authed && uid == post.UserID,
	})
}

// EditPost renders the prefilled form for the author. Anyone else lands back
// on the post page without learning anything about the form.
func (p *PostsController) EditPost(ctx *gin.Context) {
	post, ok := p.findPost(ctx)
	if !ok {
		return
	}

	uid, _ := viewerID(ctx)
	if uid != post.UserID {
		ctx.Redirect(http.StatusFound, postPath(post))
		return
	}

	group := ""
	if post.GroupID != nil {
		group = utoa(*post.GroupID)
	}
	p.renderPostForm(ctx, gin.H{
		"is_edit": true,
		"post":    post,
		"text":    post.Text,
		"group":   group,
	})
}

// UpdatePost persists an author's edit. The non-author path is a silent
// redirect: the payload is never validated, the post never touched.
func (p *PostsController) UpdatePost(ctx *gin.Context) {
	post, ok := p.findPost(ctx)
	if !ok {
		return
	}

	uid, _ := viewerID(ctx)
	if uid != post.UserID {
		ctx.Redirect(http.StatusFound, postPath(post))
		return
	}

	form := forms.PostForm{
		Text:    ctx.PostForm("text"),
		GroupID: ctx.PostForm("group"),
		Image:   formFile(ctx, "image"),
	}

	data, errs := form.Validate(p.db)
	if errs.Any() {
		p.renderPostForm(ctx, gin.H{
			"is_edit": true,
			"post":    post,
			"text":    form.Text,
			"group":   form.GroupID,
			"errors":  errs,
		})
		return
	}

	replacedImage := ""
	newImagePath := ""
	if form.Image != nil {
		imageURL, imagePath, err := p.saveImage(form.Image, data.ImageExt)
		if err != nil {
			renderServerError(ctx)
			return
		}
		replacedImage = post.ImageURL
		post.ImageURL = imageURL
		newImagePath = imagePath
	}

	post.Text = data.Text
	post.GroupID = data.GroupID
	if err := p.db.Save(&post).Error; err != nil {
		if newImagePath != "" {
			_ = os.Remove(newImagePath)
		}
		renderServerError(ctx)
		return
	}

	if replacedImage != "" {
		p.scheduleImageRemoval(replacedImage)
	}

	ctx.Redirect(http.StatusFound, postPath(post))
}

// AddComment persists a comment from the requester on the target post and
// returns to the post page. Invalid input also returns to the post page.
func (p *PostsController) AddComment(ctx *gin.Context) {
	post, ok := p.findPost(ctx)
	if !ok {
		return
	}

	if ctx.Request.Method == http.MethodPost {
		userID, authed := viewerID(ctx)
		if authed {
			text, errs := (forms.CommentForm{Text: ctx.PostForm("text")}).Validate()
			if !errs.Any() {
				comment := models.Comment{PostID: post.ID, UserID: userID, Text: text}
				if err := p.db.Create(&comment).Error; err != nil {
					renderServerError(ctx)
					return
				}
			}
		}
	}

	ctx.Redirect(http.StatusFound, postPath(post))
}

// Follow subscribes the requester to the target author. Duplicate and
// self-follow requests change nothing.
func (p *PostsController) Follow(ctx *gin.Context) {
	author, ok := p.findAuthor(ctx)
	if !ok {
		return
	}

	uid, _ := viewerID(ctx)
	if err := models.CreateFollow(p.db, uid, author.ID); err != nil && !errors.Is(err, models.ErrSelfFollow) {
		renderServerError(ctx)
		return
	}

	ctx.Redirect(http.StatusFound, "/"+author.Username+"/")
}

// Unfollow removes the subscription if it exists.
func (p *PostsController) Unfollow(ctx *gin.Context) {
	author, ok := p.findAuthor(ctx)
	if !ok {
		return
	}

	uid, _ := viewerID(ctx)
	if err := models.DeleteFollow(p.db, uid, author.ID); err != nil {
		renderServerError(ctx)
		return
	}

	ctx.Redirect(http.StatusFound, "/"+author.Username+"/")
}

// FeedIndex renders the posts of followed authors only, newest first.
func (p *PostsController) FeedIndex(ctx *gin.Context) {
	uid, _ := viewerID(ctx)
	q := models.FollowedPosts(p.db, uid).Preload("User").Preload("Group")

	var posts []models.Post
	paginator, err := paginate(q, parsePage(ctx.Query("page")), feedPerPage, &posts)
	if err != nil {
		renderServerError(ctx)
		return
	}

	ctx.HTML(http.StatusOK, "follow.html", gin.H{
		"page":      posts,
		"paginator": paginator,
		"user":      viewerName(ctx),
	})
}

// findAuthor resolves the :username path parameter, rendering 404 on miss.
func (p *PostsController) findAuthor(ctx *gin.Context) (models.User, bool) {
	var author models.User
	err := p.db.Where("username = ?", ctx.Param("username")).First(&author).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			renderNotFound(ctx)
		} else {
			renderServerError(ctx)
		}
		return models.User{}, false
	}
	return author, true
}

// findPost resolves :username/:post_id, requiring the post to belong to the
// named author. Mismatches are indistinguishable from missing posts.
func (p *PostsController) findPost(ctx *gin.Context) (models.Post, bool) {
	author, ok := p.findAuthor(ctx)
	if !ok {
		return models.Post{}, false
	}

	postID, err := strconv.ParseUint(ctx.Param("post_id"), 10, 32)
	if err != nil {
		renderNotFound(ctx)
		return models.Post{}, false
	}

	var post models.Post
	err = p.db.Preload("Group").
		Where("id = ? AND user_id = ?", uint(postID), author.ID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			renderNotFound(ctx)
		} else {
			renderServerError(ctx)
		}
		return models.Post{}, false
	}
	post.User = author
	return post, true
}

// renderPostForm renders new.html with the group choices merged in.
func (p *PostsController) renderPostForm(ctx *gin.Context, data gin.H) {
	var groups []models.Group
	if err := p.db.Order("title").Find(&groups).Error; err != nil {
		renderServerError(ctx)
		return
	}
	data["groups"] = groups
	if _, ok := data["group"]; !ok {
		data["group"] = ""
	}
	if _, ok := data["user"]; !ok {
		data["user"] = viewerName(ctx)
	}
	ctx.HTML(http.StatusOK, "new.html", data)
}

// saveImage stores a validated upload under the uploads dir, named by uuid so
// user filenames never reach the filesystem. A nil header is a no-op.
func (p *PostsController) saveImage(header *multipart.FileHeader, ext string) (string, string, error) {
	if header == nil {
		return "", "", nil
	}

	cfg := config.Get()
	now := time.Now()
	relDir := filepath.Join(now.Format("2006"), now.Format("01"), now.Format("02"))
	baseDir := filepath.Join(cfg.UploadsDir, relDir)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", "", err
	}

	name := uuid.NewString() + ext
	dstPath := filepath.Join(baseDir, name)

	src, err := header.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dstPath)
		return "", "", err
	}

	url := path.Join("/static/uploads", filepath.ToSlash(relDir), name)
	return url, dstPath, nil
}

// scheduleImageRemoval records a detached image file for the background
// cleaner instead of deleting it inline: the old page may still be cached.
func (p *PostsController) scheduleImageRemoval(imageURL string) {
	rel := strings.TrimPrefix(imageURL, "/static/uploads/")
	if rel == "" || rel == imageURL {
		return
	}
	cfg := config.Get()
	expire := time.Now().Add(time.Duration(cfg.UploadsOrphanGraceMinutes) * time.Minute)
	record := models.UploadedFile{
		FilePath: filepath.Join(cfg.UploadsDir, filepath.FromSlash(rel)),
		URL:      imageURL,
		ExpireAt: expire,
	}
	if err := p.db.Create(&record).Error; err != nil && utils.Sugar != nil {
		utils.Sugar.Warnf("failed to record detached image %s: %v", imageURL, err)
	}
}

// formFile returns the named multipart file header or nil when absent.
func formFile(ctx *gin.Context, field string) *multipart.FileHeader {
	header, err := ctx.FormFile(field)
	if err != nil {
		return nil
	}
	return header
}

func utoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func postPath(post models.Post) string {
	return "/" + post.User.Username + "/" + utoa(post.ID) + "/"
}
