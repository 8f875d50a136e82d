// Package upload stores product and team images and returns the URL they
// are served from.
package upload

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/config"
)

// Kinds of upload and the folder each one lands in.
var folders = map[string]string{
	"product": "products",
	"team":    "team",
}

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

type Store interface {
	// Save stores the image and returns its URL. filename is only used for
	// its extension; the stored name is generated.
	Save(ctx context.Context, kind, filename string, r io.Reader) (string, error)
}

// New returns the backend selected by cfg.Backend.
func New(cfg config.UploadsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Dir, cfg.PublicPath, cfg.MaxBytes)
	case "cloudinary":
		return NewCloudinaryStore(cfg.CloudinaryURL, cfg.MaxBytes)
	default:
		return nil, fmt.Errorf("upload: unknown backend %q", cfg.Backend)
	}
}

// check validates the kind and extension and sniffs the first bytes of the
// body to make sure it is an image.
func check(op, kind, filename string, r io.Reader) (folder, ext string, body io.Reader, err error) {
	folder, ok := folders[kind]
	if !ok {
		return "", "", nil, apperr.Validation(op, "unknown upload kind %q", kind)
	}
	ext = strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", "", nil, apperr.Validation(op, "only jpg, png, gif and webp images are accepted")
	}
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", "", nil, apperr.Internal(op, err)
	}
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		return "", "", nil, apperr.Validation(op, "file is not an image")
	}
	return folder, ext, br, nil
}

// LocalStore writes files below a directory served as static content.
type LocalStore struct {
	dir        string
	publicPath string
	maxBytes   int64
}

// NewLocalStore creates the upload folders below dir.
func NewLocalStore(dir, publicPath string, maxBytes int64) (*LocalStore, error) {
	for _, folder := range folders {
		if err := os.MkdirAll(filepath.Join(dir, folder), 0o755); err != nil {
			return nil, fmt.Errorf("upload: create %s: %w", folder, err)
		}
	}
	if publicPath == "" {
		publicPath = "/uploads"
	}
	return &LocalStore{dir: dir, publicPath: "/" + strings.Trim(publicPath, "/"), maxBytes: maxBytes}, nil
}

func (s *LocalStore) Dir() string        { return s.dir }
func (s *LocalStore) PublicPath() string { return s.publicPath }

func (s *LocalStore) Save(_ context.Context, kind, filename string, r io.Reader) (string, error) {
	const op = "upload.Save"
	folder, ext, body, err := check(op, kind, filename, r)
	if err != nil {
		return "", err
	}
	name := uuid.NewString() + ext
	tmp, err := os.CreateTemp(filepath.Join(s.dir, folder), ".upload-*")
	if err != nil {
		return "", apperr.Internal(op, err)
	}
	defer os.Remove(tmp.Name())

	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", apperr.Internal(op, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return "", apperr.Validation(op, "file is larger than %d bytes", s.maxBytes)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, folder, name)); err != nil {
		return "", apperr.Internal(op, err)
	}
	return path.Join(s.publicPath, folder, name), nil
}

// CloudinaryStore uploads to Cloudinary and returns the secure URL.
type CloudinaryStore struct {
	cld      *cloudinary.Cloudinary
	maxBytes int64
}

func NewCloudinaryStore(cloudinaryURL string, maxBytes int64) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("upload: cloudinary init: %w", err)
	}
	return &CloudinaryStore{cld: cld, maxBytes: maxBytes}, nil
}

func (s *CloudinaryStore) Save(ctx context.Context, kind, filename string, r io.Reader) (string, error) {
	const op = "upload.Save"
	folder, _, body, err := check(op, kind, filename, r)
	if err != nil {
		return "", err
	}
	if s.maxBytes > 0 {
		data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
		if err != nil {
			return "", apperr.Internal(op, err)
		}
		if int64(len(data)) > s.maxBytes {
			return "", apperr.Validation(op, "file is larger than %d bytes", s.maxBytes)
		}
		body = bytes.NewReader(data)
	}
	res, err := s.cld.Upload.Upload(ctx, body, uploader.UploadParams{
		PublicID: uuid.NewString(),
		Folder:   "storefront/" + folder,
	})
	if err != nil {
		return "", apperr.Internal(op, err)
	}
	if res.Error.Message != "" {
		return "", apperr.Internal(op, fmt.Errorf("cloudinary: %s", res.Error.Message))
	}
	return res.SecureURL, nil
}
