package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Avatar constraints enforced before upload.
const (
	MaxAvatarSize = 5 * 1024 * 1024
)

var allowedAvatarTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
}

// UploadResult is the backend's description of a stored file.
type UploadResult struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Upload sends r as a multipart form file named fieldName. The body is
// buffered so it can be replayed after a token refresh, and the attempt runs
// under the upload timeout.
func (c *Client) Upload(
	ctx context.Context,
	path, fieldName, fileName string,
	r io.Reader,
) (json.RawMessage, error) {
	if fieldName == "" {
		fieldName = "file"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, fileName)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to build upload body", Path: path, Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to read upload content", Path: path, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to build upload body", Path: path, Err: err}
	}

	return c.do(ctx, attempt{
		method:         http.MethodPost,
		path:           path,
		body:           buf.Bytes(),
		contentType:    w.FormDataContentType(),
		timeout:        c.UploadTimeout(),
		timeoutMessage: msgUploadTimeout,
	})
}

// UploadTimeout is the per-attempt budget for uploads.
func (c *Client) UploadTimeout() time.Duration {
	return c.timeout * time.Duration(c.uploadMultiplier)
}

// UploadFile uploads the file at filePath to /upload.
func (c *Client) UploadFile(ctx context.Context, filePath string) (*UploadResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, NewValidationError("cannot open %s: %v", filePath, err)
	}
	defer f.Close()

	payload, err := c.Upload(ctx, "/upload", "file", filepath.Base(filePath), f)
	if err != nil {
		return nil, err
	}

	var res UploadResult
	if err := decodeInto(payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadAvatar checks that filePath is an image no larger than MaxAvatarSize
// and uploads it.
func (c *Client) UploadAvatar(ctx context.Context, filePath string) (*UploadResult, error) {
	if err := ValidateAvatar(filePath); err != nil {
		return nil, err
	}
	return c.UploadFile(ctx, filePath)
}

// ValidateAvatar reports whether filePath can be used as a profile photo.
func ValidateAvatar(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return NewValidationError("cannot open %s: %v", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return NewValidationError("cannot stat %s: %v", filePath, err)
	}
	if info.Size() > MaxAvatarSize {
		return NewValidationError("File is too large. Maximum size is %d MB.", MaxAvatarSize/(1024*1024))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return NewValidationError("cannot read %s: %v", filePath, err)
	}
	contentType := http.DetectContentType(head[:n])
	if !slices.Contains(allowedAvatarTypes, contentType) {
		return NewValidationError(
			"Invalid file type %s. Please upload a PNG, JPEG, GIF, or WebP image.",
			contentType,
		)
	}
	return nil
}

// AvatarURL resolves an avatar reference returned by the backend. Absolute
// URLs are returned as-is; paths are resolved against the API base URL.
func (c *Client) AvatarURL(avatar string) string {
	if avatar == "" {
		return ""
	}
	if strings.HasPrefix(avatar, "http") {
		return avatar
	}
	if avatar[0] != '/' {
		avatar = "/" + avatar
	}
	return fmt.Sprintf("%s%s", c.baseURL, avatar)
}
