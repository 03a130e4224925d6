package routes

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/utils"
)

// pngBytes is a minimal PNG header, enough for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestMain(m *testing.M) {
	// Config is loaded once per process, so the environment must be in
	// place before the first request touches it.
	os.Setenv("JWT_SECRET", "router-test-secret")
	os.Setenv("GIN_MODE", "test")
	tmp, err := os.MkdirTemp("", "lenta-test")
	if err != nil {
		panic(err)
	}
	os.Setenv("GIN_PATH", tmp+"/gin.log")
	os.Setenv("LOG_PATH", tmp+"/app.log")
	os.Setenv("UPLOADS_DIR", tmp+"/uploads")

	code := m.Run()
	os.RemoveAll(tmp)
	os.Exit(code)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testApp struct {
	db     *gorm.DB
	router *gin.Engine
	clock  *fakeClock
	cache  *utils.PageCache
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Group{}, &models.Post{}, &models.Comment{},
		&models.Follow{}, &models.PageView{}, &models.UploadedFile{},
	))

	clock := &fakeClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	cache := utils.NewPageCache(utils.NewMemoryPageStore(clock.Now), 20*time.Second)
	return &testApp{db: db, router: SetupRouter(db, cache), clock: clock, cache: cache}
}

func (a *testApp) get(t *testing.T, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) postForm(t *testing.T, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// signup registers a user through the real handler and returns the session cookie.
func (a *testApp) signup(t *testing.T, username string) *http.Cookie {
	t.Helper()
	w := a.postForm(t, "/auth/signup/", url.Values{
		"username": {username},
		"password": {"secret-password"},
	}, nil)
	require.Equal(t, http.StatusFound, w.Code, "signup should redirect: %s", w.Body.String())

	for _, c := range w.Result().Cookies() {
		if c.Name == utils.SessionCookieName {
			return c
		}
	}
	t.Fatalf("signup did not set a session cookie")
	return nil
}

func (a *testApp) createPost(t *testing.T, cookie *http.Cookie, text string) {
	t.Helper()
	w := a.postForm(t, "/new/", url.Values{"text": {text}}, cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))
}

func TestIndexRendersPosts(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "leo")
	app.createPost(t, cookie, "Все счастливые семьи похожи друг на друга")

	w := app.get(t, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Все счастливые семьи")
}

func TestIndexCachedForTwentySeconds(t *testing.T) {
	app := newTestApp(t)

	first := app.get(t, "/", nil)
	require.Equal(t, http.StatusOK, first.Code)

	cookie := app.signup(t, "anna")
	app.createPost(t, cookie, "свежий пост")

	// Creating a post does not touch the cache: the old page survives
	// byte for byte until the window closes.
	app.clock.Advance(10 * time.Second)
	cached := app.get(t, "/", nil)
	require.Equal(t, first.Body.String(), cached.Body.String())
	require.NotContains(t, cached.Body.String(), "свежий пост")

	app.clock.Advance(11 * time.Second)
	fresh := app.get(t, "/", nil)
	require.Contains(t, fresh.Body.String(), "свежий пост")
}

func TestAdminCacheClear(t *testing.T) {
	app := newTestApp(t)

	first := app.get(t, "/", nil)
	require.Equal(t, http.StatusOK, first.Code)

	cookie := app.signup(t, "boris")
	app.createPost(t, cookie, "пост после очистки")

	app.cache.Clear()

	fresh := app.get(t, "/", nil)
	require.Contains(t, fresh.Body.String(), "пост после очистки")
}

func TestNewPostRequiresLogin(t *testing.T) {
	app := newTestApp(t)

	w := app.get(t, "/new/", nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "/auth/login/?next="))
}

func TestLoginHonorsNext(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, "walker")

	w := app.postForm(t, "/auth/login/", url.Values{
		"username": {"walker"},
		"password": {"secret-password"},
		"next":     {"/new/"},
	}, nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/new/", w.Header().Get("Location"))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, "victim")

	w := app.postForm(t, "/auth/login/", url.Values{
		"username": {"victim"},
		"password": {"wrong"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Неверное имя пользователя или пароль")
}

func TestLogoutRevokesSession(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "ghost")

	w := app.get(t, "/auth/logout/", cookie)
	require.Equal(t, http.StatusFound, w.Code)

	// The old token is blacklisted, so a guarded page bounces to login.
	w = app.get(t, "/new/", cookie)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "/auth/login/"))
}

func TestCreatePostValidation(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "editor")

	w := app.postForm(t, "/new/", url.Values{"text": {"   "}}, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Введите текст поста")

	var n int64
	require.NoError(t, app.db.Model(&models.Post{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestCreatePostWithImage(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "painter")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "пост с картинкой"))
	part, err := mw.CreateFormFile("image", "art.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/new/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)

	var post models.Post
	require.NoError(t, app.db.First(&post).Error)
	require.True(t, strings.HasPrefix(post.ImageURL, "/static/uploads/"))
	require.True(t, strings.HasSuffix(post.ImageURL, ".png"))
}

func TestCreatePostRejectsNonImage(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "trickster")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "текст"))
	part, err := mw.CreateFormFile("image", "fake.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("this is a plain text file"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/new/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Нужно вставить картинку")

	var n int64
	require.NoError(t, app.db.Model(&models.Post{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestGroupPages(t *testing.T) {
	app := newTestApp(t)
	group := models.Group{Title: "Литература", Slug: "books", Description: "о книгах"}
	require.NoError(t, app.db.Create(&group).Error)

	cookie := app.signup(t, "reader")
	w := app.postForm(t, "/new/", url.Values{
		"text":  {"пост о книгах"},
		"group": {fmt.Sprint(group.ID)},
	}, cookie)
	require.Equal(t, http.StatusFound, w.Code)

	w = app.get(t, "/group/books/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "пост о книгах")
	require.Contains(t, w.Body.String(), "Литература")

	w = app.get(t, "/groups/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Литература")

	w = app.get(t, "/group/nope/", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfileAndPostDetail(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "author")
	app.createPost(t, cookie, "заметка автора")

	w := app.get(t, "/author/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "заметка автора")

	var post models.Post
	require.NoError(t, app.db.First(&post).Error)

	w = app.get(t, fmt.Sprintf("/author/%d/", post.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "заметка автора")

	w = app.get(t, "/nobody/", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = app.get(t, "/author/999/", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = app.get(t, "/author/abc/", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostBelongsToNamedAuthor(t *testing.T) {
	app := newTestApp(t)
	cookieA := app.signup(t, "alice")
	app.signup(t, "bob")
	app.createPost(t, cookieA, "пост алисы")

	var post models.Post
	require.NoError(t, app.db.First(&post).Error)

	// Alice's post id under Bob's username does not exist.
	w := app.get(t, fmt.Sprintf("/bob/%d/", post.ID), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditPostOnlyByAuthor(t *testing.T) {
	app := newTestApp(t)
	cookieA := app.signup(t, "owner")
	cookieB := app.signup(t, "intruder")
	app.createPost(t, cookieA, "оригинал")

	var post models.Post
	require.NoError(t, app.db.First(&post).Error)
	target := fmt.Sprintf("/owner/%d/edit/", post.ID)

	// Non-author lands back on the post page, the payload is ignored.
	w := app.postForm(t, target, url.Values{"text": {"взлом"}}, cookieB)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, fmt.Sprintf("/owner/%d/", post.ID), w.Header().Get("Location"))

	require.NoError(t, app.db.First(&post).Error)
	require.Equal(t, "оригинал", post.Text)

	// The author edits successfully.
	w = app.postForm(t, target, url.Values{"text": {"исправлено"}}, cookieA)
	require.Equal(t, http.StatusFound, w.Code)

	require.NoError(t, app.db.First(&post).Error)
	require.Equal(t, "исправлено", post.Text)
}

func TestCommentFlow(t *testing.T) {
	app := newTestApp(t)
	cookieA := app.signup(t, "writer")
	cookieB := app.signup(t, "critic")
	app.createPost(t, cookieA, "обсуждаемый пост")

	var post models.Post
	require.NoError(t, app.db.First(&post).Error)
	postURL := fmt.Sprintf("/writer/%d/", post.ID)

	w := app.postForm(t, postURL+"comment/", url.Values{"text": {"сильно сказано"}}, cookieB)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, postURL, w.Header().Get("Location"))

	w = app.get(t, postURL, nil)
	require.Contains(t, w.Body.String(), "сильно сказано")

	// Anonymous comments bounce to login.
	w = app.postForm(t, postURL+"comment/", url.Values{"text": {"аноним"}}, nil)
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "/auth/login/"))
}

func TestFollowFlow(t *testing.T) {
	app := newTestApp(t)
	cookieReader := app.signup(t, "follower")
	cookieAuthor := app.signup(t, "blogger")
	app.createPost(t, cookieAuthor, "пост блогера")

	// Before following the feed is empty.
	w := app.get(t, "/follow/", cookieReader)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "пост блогера")

	w = app.get(t, "/blogger/follow/", cookieReader)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/blogger/", w.Header().Get("Location"))

	w = app.get(t, "/follow/", cookieReader)
	require.Contains(t, w.Body.String(), "пост блогера")

	// Following twice leaves a single edge.
	w = app.get(t, "/blogger/follow/", cookieReader)
	require.Equal(t, http.StatusFound, w.Code)
	var n int64
	require.NoError(t, app.db.Model(&models.Follow{}).Count(&n).Error)
	require.Equal(t, int64(1), n)

	w = app.get(t, "/blogger/unfollow/", cookieReader)
	require.Equal(t, http.StatusFound, w.Code)

	w = app.get(t, "/follow/", cookieReader)
	require.NotContains(t, w.Body.String(), "пост блогера")
}

func TestSelfFollowIgnored(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signup(t, "solo")

	w := app.get(t, "/solo/follow/", cookie)
	require.Equal(t, http.StatusFound, w.Code)

	var n int64
	require.NoError(t, app.db.Model(&models.Follow{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestIndexPaginationClamps(t *testing.T) {
	app := newTestApp(t)
	author := models.User{Username: "prolific", PasswordHash: "x"}
	require.NoError(t, app.db.Create(&author).Error)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		post := models.Post{UserID: author.ID, Text: fmt.Sprintf("запись номер %d", i), CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, app.db.Create(&post).Error)
	}

	// Newest first: page one holds entries 12..8.
	w := app.get(t, "/?page=1", nil)
	require.Contains(t, w.Body.String(), "запись номер 12")
	require.NotContains(t, w.Body.String(), "запись номер 7")

	// The last page holds the oldest two.
	w = app.get(t, "/?page=3", nil)
	require.Contains(t, w.Body.String(), "запись номер 1")
	require.Contains(t, w.Body.String(), "запись номер 2")
	require.NotContains(t, w.Body.String(), "запись номер 3")

	// Out-of-range pages clamp to the last page instead of erroring.
	w = app.get(t, "/?page=99", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "запись номер 1")
}

func TestAdminRequiresPrivilege(t *testing.T) {
	app := newTestApp(t)

	// Anonymous callers bounce at the login guard.
	w := app.postForm(t, "/admin/cache/clear/", url.Values{}, nil)
	require.Equal(t, http.StatusFound, w.Code)

	// A plain user is refused: no usernames are configured as admins here.
	cookie := app.signup(t, "mortal")
	w = app.postForm(t, "/admin/cache/clear/", url.Values{}, cookie)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignupRejectsBadUsername(t *testing.T) {
	app := newTestApp(t)

	w := app.postForm(t, "/auth/signup/", url.Values{
		"username": {"no spaces allowed"},
		"password": {"secret-password"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Имя пользователя")

	w = app.postForm(t, "/auth/signup/", url.Values{
		"username": {"short"},
		"password": {"123"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Пароль")
}

func TestDuplicateUsername(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, "taken")

	w := app.postForm(t, "/auth/signup/", url.Values{
		"username": {"taken"},
		"password": {"secret-password"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "занято")
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	w := app.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
