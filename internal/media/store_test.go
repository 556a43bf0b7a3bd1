package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir, URLPrefix: "/uploads"})
	require.NoError(t, err)

	s := NewStore(local, time.Hour)
	s.nowFn = func() time.Time { return time.UnixMilli(1700000000000) }
	return s, dir
}

func TestStore_Classifies_By_Content(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     domain.MessageType
		mime     string
	}{
		{name: "png", filename: "photo.png", content: pngHeader, want: domain.MessageTypeImage, mime: "image/png"},
		{name: "png without extension", filename: "blob", content: pngHeader, want: domain.MessageTypeImage, mime: "image/png"},
		{name: "pdf", filename: "doc.pdf", content: []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n"), want: domain.MessageTypePDF, mime: "application/pdf"},
		{name: "text", filename: "notes.txt", content: []byte("just some words\n"), want: domain.MessageTypeOther, mime: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			s, dir := newTestStore(t)

			stored, err := s.Store(context.Background(), tt.filename, bytes.NewReader(tt.content), int64(len(tt.content)))

			req.NoError(err)
			req.Equal(tt.want, stored.Kind)
			req.True(strings.HasPrefix(stored.MimeType, tt.mime), stored.MimeType)
			req.Equal(int64(len(tt.content)), stored.Size)
			req.Equal("/uploads/"+stored.Key, stored.URL)

			written, err := os.ReadFile(filepath.Join(dir, stored.Key))
			req.NoError(err)
			req.Equal(tt.content, written)
		})
	}
}

func TestStore_Large_Upload_Is_Written_In_Full(t *testing.T) {
	req := require.New(t)
	s, dir := newTestStore(t)
	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0xAB}, 10*sniffSize)...)

	stored, err := s.Store(context.Background(), "big.png", bytes.NewReader(content), -1)

	req.NoError(err)
	req.Equal(int64(len(content)), stored.Size)
	written, err := os.ReadFile(filepath.Join(dir, stored.Key))
	req.NoError(err)
	req.Len(written, len(content))
}

func TestStore_Rejects_Empty_Upload(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store(context.Background(), "empty.png", bytes.NewReader(nil), 0)

	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestStore_Key_Sanitizes_Filename(t *testing.T) {
	req := require.New(t)
	s, _ := newTestStore(t)

	stored, err := s.Store(context.Background(), "../../etc/my photo!.png", bytes.NewReader(pngHeader), -1)
	req.NoError(err)

	req.True(strings.HasPrefix(stored.Key, "1700000000000-"), stored.Key)
	req.True(strings.HasSuffix(stored.Key, "-my_photo_.png"), stored.Key)
	req.NotContains(stored.Key, "/")

	stored, err = s.Store(context.Background(), "", bytes.NewReader(pngHeader), -1)
	req.NoError(err)
	req.True(strings.HasSuffix(stored.Key, "-upload.png"), stored.Key)
}

func TestClassify(t *testing.T) {
	req := require.New(t)

	req.Equal(domain.MessageTypeImage, Classify("image/jpeg"))
	req.Equal(domain.MessageTypeVideo, Classify("video/mp4"))
	req.Equal(domain.MessageTypePDF, Classify("application/pdf"))
	req.Equal(domain.MessageTypeOther, Classify("application/zip"))
}
