package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"gopherchat/internal/storage"
)

// sniffLen is how much of a file is read to detect its type.
const sniffLen = 3072

type UploadConfig struct {
	MaxFileSize  int64
	MaxFiles     int
	AllowedTypes []string
}

type UploadedFile struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

type UploadService struct {
	blobs storage.Storage
	cfg   UploadConfig
}

func NewUploadService(blobs storage.Storage, cfg UploadConfig) *UploadService {
	return &UploadService{blobs: blobs, cfg: cfg}
}

// Save stores every file or none of the remaining ones: the first invalid
// file aborts the batch.
func (s *UploadService) Save(ctx context.Context, files []*multipart.FileHeader) ([]UploadedFile, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidInput)
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return nil, fmt.Errorf("%w: at most %d files", ErrTooManyFiles, s.cfg.MaxFiles)
	}
	for _, fh := range files {
		if s.cfg.MaxFileSize > 0 && fh.Size > s.cfg.MaxFileSize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, fh.Filename, s.cfg.MaxFileSize)
		}
	}

	out := make([]UploadedFile, 0, len(files))
	for _, fh := range files {
		uploaded, err := s.saveOne(ctx, fh)
		if err != nil {
			return nil, err
		}
		out = append(out, uploaded)
	}
	return out, nil
}

func (s *UploadService) saveOne(ctx context.Context, fh *multipart.FileHeader) (UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("open upload failed: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return UploadedFile{}, fmt.Errorf("read upload failed: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	mimeType, _, _ := strings.Cut(mtype.String(), ";")
	mimeType = strings.TrimSpace(mimeType)
	if !s.allowed(mtype) {
		return UploadedFile{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	ext := mtype.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(fh.Filename))
	}
	key := uuid.NewString() + ext

	body := io.MultiReader(bytes.NewReader(head), f)
	if err := s.blobs.Write(ctx, key, body, fh.Size, mimeType); err != nil {
		return UploadedFile{}, err
	}

	return UploadedFile{
		URL:          s.blobs.URL(key),
		OriginalName: filepath.Base(fh.Filename),
		Size:         fh.Size,
		MimeType:     mimeType,
	}, nil
}

// allowed matches the detected type, or any of its parents, against the
// allow-list. Entries ending in "/" match a whole family.
func (s *UploadService) allowed(mtype *mimetype.MIME) bool {
	if len(s.cfg.AllowedTypes) == 0 {
		return true
	}
	for m := mtype; m != nil; m = m.Parent() {
		for _, allowed := range s.cfg.AllowedTypes {
			if strings.HasSuffix(allowed, "/") && strings.HasPrefix(m.String(), allowed) {
				return true
			}
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}
