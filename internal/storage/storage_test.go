package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
	public  bool
}

func newMemBackend() *memBackend { return &memBackend{objects: map[string][]byte{}, public: true} }

func (b *memBackend) Put(_ context.Context, key, _ string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut != nil {
		return b.failPut
	}
	b.objects[key] = data
	return nil
}

func (b *memBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBackend) PublicURL(key string) string {
	if !b.public {
		return ""
	}
	return "https://blobs.test/" + key
}

func (b *memBackend) Presign(_ context.Context, key string) (string, error) {
	return "https://blobs.test/" + key + "?X-Amz-Expires=600", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPolicyCheck(t *testing.T) {
	img, err := PolicyFor("image")
	require.NoError(t, err)
	assert.NoError(t, img.Check(1024, "image/png"))
	assert.ErrorIs(t, img.Check(11*mib, "image/png"), apperr.ErrValidation)
	assert.ErrorIs(t, img.Check(10, "application/pdf"), apperr.ErrValidation)
	assert.ErrorIs(t, img.Check(0, "image/png"), apperr.ErrValidation)

	doc, err := PolicyFor("Document")
	require.NoError(t, err)
	assert.Equal(t, "chat-app/documents", doc.Folder)
	assert.NoError(t, doc.Check(49*mib, "application/pdf"))

	video, _ := PolicyFor("video")
	assert.NoError(t, video.Check(100*mib, "video/x-matroska"))

	_, err = PolicyFor("text")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDetectMIME(t *testing.T) {
	data := pngBytes(t, 4, 4)
	assert.Equal(t, "image/png", DetectMIME("", data))
	assert.Equal(t, "image/png", DetectMIME("application/octet-stream", data))
	assert.Equal(t, "text/plain", DetectMIME("text/plain; charset=utf-8", []byte("hi")))
}

func TestThumbnailWidth(t *testing.T) {
	thumb, err := Thumbnail(pngBytes(t, 800, 400))
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 160, img.Bounds().Dy())

	_, err = Thumbnail([]byte("not an image"))
	assert.Error(t, err)
}

func TestGatewayUploadImage(t *testing.T) {
	b := newMemBackend()
	g := NewGateway(b, BreakerSettings{MaxFailures: 3, Timeout: time.Minute}, zap.NewNop(), nil)

	a, err := g.Upload(context.Background(), models.TypeImage, "cat.PNG", "image/png", pngBytes(t, 640, 480))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Key, "chat-app/images/"))
	assert.True(t, strings.HasSuffix(a.Key, ".png"))
	assert.Equal(t, "https://blobs.test/"+a.Key, a.URL)
	assert.Equal(t, "cat.PNG", a.OriginalName)
	assert.NotEmpty(t, a.Thumbnail)
	assert.True(t, strings.HasSuffix(a.ThumbnailKey, "_thumb.jpg"))
	assert.Len(t, b.objects, 2)

	require.NoError(t, g.Delete(context.Background(), a.Key, a.ThumbnailKey))
	assert.Empty(t, b.objects)
}

func TestGatewayPrivateBucketKeepsOnlyKeys(t *testing.T) {
	b := newMemBackend()
	b.public = false
	g := NewGateway(b, BreakerSettings{}, zap.NewNop(), nil)

	a, err := g.Upload(context.Background(), models.TypeImage, "cat.png", "image/png", pngBytes(t, 640, 480))
	require.NoError(t, err)
	assert.Empty(t, a.URL)
	assert.Empty(t, a.Thumbnail)
	assert.NotEmpty(t, a.Key)
	assert.NotEmpty(t, a.ThumbnailKey)

	u, err := g.Sign(context.Background(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/"+a.Key+"?X-Amz-Expires=600", u)

	_, err = g.Sign(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGatewayRejectsBeforeStoring(t *testing.T) {
	b := newMemBackend()
	g := NewGateway(b, BreakerSettings{}, zap.NewNop(), nil)
	_, err := g.Upload(context.Background(), models.TypeAudio, "x.exe", "application/x-msdownload", []byte("MZ"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, b.objects)
}

func TestGatewayBreakerOpens(t *testing.T) {
	b := newMemBackend()
	b.failPut = errors.New("connection refused")
	g := NewGateway(b, BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, zap.NewNop(), nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := g.Upload(ctx, models.TypeDocument, "a.txt", "text/plain", []byte("hello"))
		assert.ErrorIs(t, err, apperr.ErrUpstream)
	}
	b.failPut = nil
	_, err := g.Upload(ctx, models.TypeDocument, "a.txt", "text/plain", []byte("hello"))
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, "blob store unavailable", apperr.Message(err))
}
