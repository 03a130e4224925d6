package forms

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avorontsov/lenta/models"
)

// pngBytes is a minimal PNG header, enough for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Group{}))
	return db
}

// uploadHeader builds a real multipart.FileHeader the way gin receives one.
func uploadHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/new/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1 << 20))
	return req.MultipartForm.File["image"][0]
}

func TestPostFormEmptyText(t *testing.T) {
	db := newTestDB(t)

	_, errs := PostForm{Text: ""}.Validate(db)
	require.True(t, errs.Any())
	require.Contains(t, errs, "text")

	_, errs = PostForm{Text: "   \n\t  "}.Validate(db)
	require.True(t, errs.Any())
	require.Contains(t, errs, "text")
}

func TestPostFormValidWithoutGroup(t *testing.T) {
	db := newTestDB(t)

	data, errs := PostForm{Text: "Просто текст"}.Validate(db)
	require.False(t, errs.Any())
	require.Equal(t, "Просто текст", data.Text)
	require.Nil(t, data.GroupID)
	require.Empty(t, data.ImageExt)
}

func TestPostFormGroupValidation(t *testing.T) {
	db := newTestDB(t)
	group := models.Group{Title: "Коты", Slug: "cats"}
	require.NoError(t, db.Create(&group).Error)

	data, errs := PostForm{Text: "про котов", GroupID: "1"}.Validate(db)
	require.False(t, errs.Any())
	require.NotNil(t, data.GroupID)
	require.Equal(t, group.ID, *data.GroupID)

	_, errs = PostForm{Text: "текст", GroupID: "999"}.Validate(db)
	require.Contains(t, errs, "group")

	_, errs = PostForm{Text: "текст", GroupID: "abc"}.Validate(db)
	require.Contains(t, errs, "group")
}

func TestPostFormImageSniffing(t *testing.T) {
	db := newTestDB(t)

	// A text file named like an image must be rejected.
	fake := uploadHeader(t, "cat.png", []byte("definitely not a picture"))
	_, errs := PostForm{Text: "текст", Image: fake}.Validate(db)
	require.Contains(t, errs, "image")

	// Real PNG bytes pass regardless of the filename.
	genuine := uploadHeader(t, "whatever.dat", pngBytes)
	data, errs := PostForm{Text: "текст", Image: genuine}.Validate(db)
	require.False(t, errs.Any())
	require.Equal(t, ".png", data.ImageExt)
}

func TestPostFormSanitizesMarkup(t *testing.T) {
	db := newTestDB(t)

	data, errs := PostForm{Text: `привет <script>alert(1)</script>`}.Validate(db)
	require.False(t, errs.Any())
	require.NotContains(t, data.Text, "<script>")
}

func TestCommentFormValidate(t *testing.T) {
	text, errs := CommentForm{Text: "  отличный пост  "}.Validate()
	require.False(t, errs.Any())
	require.Equal(t, "отличный пост", text)

	_, errs = CommentForm{Text: "   "}.Validate()
	require.Contains(t, errs, "text")
}
