// Package forms holds the input validation for posts and comments. Validation
// never panics across handler boundaries: every form returns a cleaned payload
// plus field-level errors the caller re-renders with the originating page.
package forms

import (
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gorm.io/gorm"

	"github.com/avorontsov/lenta/models"
	"github.com/avorontsov/lenta/utils"
)

// FieldErrors maps a field name to a user-facing validation message.
type FieldErrors map[string]string

// Any reports whether validation produced at least one error.
func (e FieldErrors) Any() bool { return len(e) > 0 }

// PostForm carries the raw values of the new/edit post form.
type PostForm struct {
	Text    string
	GroupID string // raw select value, may be empty
	Image   *multipart.FileHeader
}

// PostData is the cleaned result of a valid PostForm.
type PostData struct {
	Text     string
	GroupID  *uint
	ImageExt string // file extension sniffed from content, e.g. ".png"
}

// Validate cleans the form and checks every field. The group reference, when
// present, must point at an existing group; the image, when present, must
// actually contain image data regardless of its filename.
func (f PostForm) Validate(db *gorm.DB) (PostData, FieldErrors) {
	errs := FieldErrors{}
	data := PostData{}

	text := utils.Sanitize(strings.TrimSpace(f.Text))
	if text == "" {
		errs["text"] = "Введите текст поста"
	}
	data.Text = text

	if raw := strings.TrimSpace(f.GroupID); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			errs["group"] = "Выберите группу из существующих"
		} else {
			var n int64
			if dbErr := db.Model(&models.Group{}).Where("id = ?", uint(id)).Count(&n).Error; dbErr != nil || n == 0 {
				errs["group"] = "Выберите группу из существующих"
			} else {
				gid := uint(id)
				data.GroupID = &gid
			}
		}
	}

	if f.Image != nil {
		ext, err := sniffImage(f.Image)
		if err != nil {
			errs["image"] = "Нужно вставить картинку"
		} else {
			data.ImageExt = ext
		}
	}

	return data, errs
}

// CommentForm carries the raw values of the comment form.
type CommentForm struct {
	Text string
}

// Validate cleans the comment text.
func (f CommentForm) Validate() (string, FieldErrors) {
	errs := FieldErrors{}
	text := utils.Sanitize(strings.TrimSpace(f.Text))
	if text == "" {
		errs["text"] = "Введите текст комментария"
	}
	return text, errs
}

// errNotImage marks uploads whose content is not an image format.
type notImageError struct{ mime string }

func (e *notImageError) Error() string { return "not an image: " + e.mime }

// sniffImage detects the content type of the upload from its bytes and returns
// the canonical extension. The filename is never trusted.
func sniffImage(header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &notImageError{mime: mt.String()}
	}
	return mt.Extension(), nil
}
