package attachments

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"opsboard/internal/config"
)

func TestSaveImageWritesThumbnail(t *testing.T) {
	tempDir := t.TempDir()
	st, err := NewStore(context.Background(), config.Config{
		AttachmentDir:      tempDir,
		AttachmentMaxBytes: 1 << 20,
		ThumbWidth:         5,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	res, err := st.Save(context.Background(), "item-1", "cover mock.png", "image/png", buf.Bytes())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.StorageKey != "item-1/cover_mock.png" {
		t.Fatalf("storage key = %q", res.StorageKey)
	}
	if res.ThumbKey == nil || *res.ThumbKey != "item-1/thumb_cover_mock.jpg" {
		t.Fatalf("thumb key = %v", res.ThumbKey)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, *res.ThumbKey))
	if err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
	thumb, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 5 {
		t.Fatalf("thumb width = %d, want 5", thumb.Bounds().Dx())
	}
}

func TestSaveNonImageSkipsThumbnail(t *testing.T) {
	tempDir := t.TempDir()
	st, err := NewStore(context.Background(), config.Config{AttachmentDir: tempDir})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	res, err := st.Save(context.Background(), "item-1", "notes.txt", "text/plain", []byte("print schedule"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.ThumbKey != nil {
		t.Fatalf("text upload should not get a thumbnail: %v", *res.ThumbKey)
	}
	if _, err := os.Stat(filepath.Join(tempDir, res.StorageKey)); err != nil {
		t.Fatalf("attachment not written: %v", err)
	}
}

func TestSaveRejectsOversizeAndTraversal(t *testing.T) {
	st, err := NewStore(context.Background(), config.Config{
		AttachmentDir:      t.TempDir(),
		AttachmentMaxBytes: 4,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := st.Save(context.Background(), "item-1", "big.bin", "application/octet-stream", []byte("12345")); err == nil {
		t.Fatal("expected oversize rejection")
	}

	if got := sanitizeName("../../etc/passwd"); got != "passwd" {
		t.Fatalf("sanitizeName = %q", got)
	}
	if got := sanitizeName(""); got != "attachment" {
		t.Fatalf("sanitizeName empty = %q", got)
	}
}
