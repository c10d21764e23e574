package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

type memUploader struct {
	key         string
	body        []byte
	contentType string
}

func (m *memUploader) Upload(_ context.Context, key string, body []byte, contentType string) (string, error) {
	m.key = key
	m.body = body
	m.contentType = contentType
	return "mem://" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestStoreCoverResizesWideImages(t *testing.T) {
	up := &memUploader{}
	p := NewPipelineWithUploader(up, 100)

	url, err := p.StoreCover(context.Background(), "my-post", pngBytes(t, 400, 200))
	if err != nil {
		t.Fatalf("StoreCover: %v", err)
	}
	if url != "mem://covers/my-post.jpg" {
		t.Fatalf("unexpected url %q", url)
	}
	if up.contentType != "image/jpeg" {
		t.Fatalf("cover should re-encode as jpeg, got %q", up.contentType)
	}

	stored, _, err := image.Decode(bytes.NewReader(up.body))
	if err != nil {
		t.Fatalf("decode stored cover: %v", err)
	}
	if got := stored.Bounds().Dx(); got != 100 {
		t.Fatalf("stored width = %d, want 100", got)
	}
}

func TestStoreCoverKeepsNarrowImages(t *testing.T) {
	up := &memUploader{}
	p := NewPipelineWithUploader(up, 1200)

	if _, err := p.StoreCover(context.Background(), "small", pngBytes(t, 50, 50)); err != nil {
		t.Fatalf("StoreCover: %v", err)
	}
	stored, _, err := image.Decode(bytes.NewReader(up.body))
	if err != nil {
		t.Fatalf("decode stored cover: %v", err)
	}
	if got := stored.Bounds().Dx(); got != 50 {
		t.Fatalf("narrow image should not be upscaled, got width %d", got)
	}
}

func TestStoreCoverRejectsGarbage(t *testing.T) {
	p := NewPipelineWithUploader(&memUploader{}, 1200)
	if _, err := p.StoreCover(context.Background(), "bad", []byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
