package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "/media", nil)
	require.NoError(t, err)

	p := "patients/p1/visits/v1/images/originals/left/1-abc-fundus.png"
	require.NoError(t, store.Put(ctx, p, []byte("pixels"), "image/png"))

	data, err := store.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)
	assert.Equal(t, "/media/"+p, store.PublicURL(p))

	require.NoError(t, store.Delete(ctx, p))
	_, err = store.Get(ctx, p)
	assert.Error(t, err)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, p))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/media", nil)
	require.NoError(t, err)

	err = store.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	orig := OriginalPath("p1", "v1", "left", "../Fondo Ojo.JPG", now)
	assert.True(t, strings.HasPrefix(orig, "patients/p1/visits/v1/images/originals/left/1700000000000-"))
	assert.True(t, strings.HasSuffix(orig, "-Fondo_Ojo.JPG"))

	assert.Equal(t, "patients/p1/visits/v1/images/originals/left/thumbs/a.jpg",
		ThumbnailPath("patients/p1/visits/v1/images/originals/left/a.png"))

	assert.Equal(t, "patients/p1/visits/v1/images/ai_analysis/right/1700000000000-img1-segmentation.png",
		AnalysisPath("p1", "v1", "right", "img1", "", now))
	assert.Equal(t, "patients/p1/visits/v1/images/ai_analysis/right/1700000000000-img1-segmentation.jpg",
		AnalysisPath("p1", "v1", "right", "img1", ".jpg", now))

	assert.Equal(t, "image", SanitizeFileName(".."))
}
