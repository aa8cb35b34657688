package whatanime

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret", WithHTTPClient(srv.Client()), WithRateLimit(time.Millisecond, 10))
}

func TestClient_Me(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Write([]byte(`{"user_id":7,"email":"a@b.c","quota":150,"quota_ttl":86400,"now_quota":149,"quota_expire":600}`))
	})

	me, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, me.UserID)
	assert.Equal(t, 150, me.Quota)
	assert.Equal(t, 149, me.NowQuota)
}

func TestClient_Search(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		assert.NoError(t, r.ParseForm())
		payload := r.PostForm.Get("image")
		assert.True(t, strings.HasPrefix(payload, "'data:image/jpeg;base64,"))
		assert.True(t, strings.HasSuffix(payload, "'"))

		json.NewEncoder(w).Encode(map[string]any{
			"RawDocsCount": 3,
			"quota":        9,
			"expire":       60,
			"docs": []map[string]any{
				{"at": 12.5, "episode": 3, "similarity": 0.97, "title_romaji": "Shoujo", "season": "2017-01", "anime": "Shoujo", "filename": "[a] 03.mp4", "tokenthumb": "tk"},
				{"at": 1, "episode": "OVA", "similarity": 0.8, "title_romaji": "Other"},
			},
		})
	})

	result, err := client.Search(context.Background(), testPNG(t, 32, 32))
	require.NoError(t, err)
	assert.Equal(t, 9, result.Quota)
	assert.Equal(t, 60, result.Expire)
	require.Len(t, result.Docs, 2)
	assert.Equal(t, Episode("3"), result.Docs[0].Episode)
	assert.Equal(t, Episode("OVA"), result.Docs[1].Episode)
	assert.Equal(t, "Shoujo EP#3, similarity: 0.9700", result.Docs[0].String())
}

func TestClient_SearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "quota", status: http.StatusTooManyRequests, want: ErrQuotaExceeded},
		{name: "token", status: http.StatusForbidden, want: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.Search(context.Background(), testPNG(t, 8, 8))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
		_, err := client.Search(context.Background(), testPNG(t, 8, 8))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestEncodePicture(t *testing.T) {
	_, err := EncodePicture([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrNotImage)

	encoded, err := EncodePicture(testPNG(t, 16, 16))
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}

func TestEncodePicture_TooLarge(t *testing.T) {
	// Random noise defeats JPEG compression
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, 1200, 1200))
	rng.Read(img.Pix)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	_, err := EncodePicture(buf.Bytes())
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestClient_MediaURLs(t *testing.T) {
	client := NewClient("https://example.org", "secret")
	doc := Doc{Season: "2017-01", Anime: "Some Anime", Filename: "ep 1.mp4", At: 12.5, TokenThumb: "tk"}

	assert.Equal(t,
		"https://example.org/thumbnail.php?anime=Some+Anime&file=ep+1.mp4&season=2017-01&t=12.5&token=tk",
		client.ThumbnailURL(doc))
	assert.True(t, strings.HasPrefix(client.PreviewURL(doc), "https://example.org/preview.php?"))
}

func TestClient_Thumbnail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/thumbnail.php":
			assert.Equal(t, "tk", r.URL.Query().Get("token"))
			w.Write([]byte("jpeg-bytes"))
		case "/preview.php":
			// no preview for this scene
		}
	})

	data, err := client.Thumbnail(context.Background(), Doc{TokenThumb: "tk"})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	_, err = client.Preview(context.Background(), Doc{TokenThumb: "tk"})
	assert.Error(t, err)
}
