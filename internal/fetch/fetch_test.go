package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	url string
	err error
}

func (r staticResolver) GetFileDirectURL(fileID string) (string, error) {
	return r.url + "/" + fileID, r.err
}

func newServer(t *testing.T, body []byte, chunked bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if chunked {
			// Flushing before the body hides Content-Length
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloader_Download(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 100)
	srv := newServer(t, body, false)

	d := NewDownloader(staticResolver{url: srv.URL}, srv.Client(), 1000)
	got, err := d.Download(context.Background(), "photo", 100)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloader_Limits(t *testing.T) {
	body := bytes.Repeat([]byte("b"), 2048)

	tests := []struct {
		name     string
		chunked  bool
		declared int64
	}{
		{name: "declared size over the cap", declared: 4096},
		{name: "content length over the cap"},
		{name: "streamed body over the cap", chunked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, body, tt.chunked)
			d := NewDownloader(staticResolver{url: srv.URL}, srv.Client(), 1024)

			_, err := d.Download(context.Background(), "file", tt.declared)
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}
}

func TestDownloader_ExactlyAtCap(t *testing.T) {
	body := bytes.Repeat([]byte("c"), 1024)
	srv := newServer(t, body, true)

	d := NewDownloader(staticResolver{url: srv.URL}, srv.Client(), 1024)
	got, err := d.Download(context.Background(), "file", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1024)
}

func TestDownloader_Errors(t *testing.T) {
	srv := newServer(t, nil, false)

	d := NewDownloader(staticResolver{url: srv.URL, err: errors.New("bad file id")}, srv.Client(), 0)
	_, err := d.Download(context.Background(), "x", 0)
	assert.Error(t, err)
	assert.Equal(t, DefaultMaxSize, d.MaxSize())

	d = NewDownloader(staticResolver{url: srv.URL}, srv.Client(), 0)
	_, err = d.Download(context.Background(), "missing", 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooLarge)
}
