// Package media stores uploaded blobs and classifies them by content.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/storage"
)

const sniffSize = 3072

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// StoredMedia describes an uploaded blob.
type StoredMedia struct {
	URL      string             `json:"fileUrl"`
	Kind     domain.MessageType `json:"fileType"`
	Key      string             `json:"key"`
	MimeType string             `json:"mimeType"`
	Size     int64              `json:"size"`
}

// Store writes uploads to blob storage.
type Store struct {
	storage   storage.Storage
	urlExpiry time.Duration
	nowFn     func() time.Time
}

// NewStore creates a media store. urlExpiry applies to presigned URLs.
func NewStore(s storage.Storage, urlExpiry time.Duration) *Store {
	return &Store{storage: s, urlExpiry: urlExpiry, nowFn: time.Now}
}

// Classify maps a MIME type to a message kind.
func Classify(mime string) domain.MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.MessageTypeImage
	case strings.HasPrefix(mime, "video/"):
		return domain.MessageTypeVideo
	case mime == "application/pdf":
		return domain.MessageTypePDF
	default:
		return domain.MessageTypeOther
	}
}

// Store sniffs the content type of r, writes it under a unique key and
// returns its URL and kind. size may be -1 when unknown.
func (s *Store) Store(ctx context.Context, filename string, r io.Reader, size int64) (*StoredMedia, error) {
	l := log.Ctx(ctx)

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidRequest)
	}

	mime := mimetype.Detect(head)
	key := s.buildKey(filename, mime.Extension())

	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), r)}
	if err := s.storage.Write(ctx, key, counter, size, mime.String()); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	url, err := s.storage.GetURL(ctx, key, s.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to build url for %s: %w", key, err)
	}

	stored := &StoredMedia{
		URL:      url,
		Kind:     Classify(mime.String()),
		Key:      key,
		MimeType: mime.String(),
		Size:     counter.n,
	}
	l.Info().
		Str("key", key).
		Str("mime_type", stored.MimeType).
		Int64("size", stored.Size).
		Msg("media stored")
	return stored, nil
}

func (s *Store) buildKey(filename, ext string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "_")
	if base == "" {
		base = "upload" + ext
	}
	return fmt.Sprintf("%d-%s-%s", s.nowFn().UnixMilli(), uuid.NewString()[:8], base)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
