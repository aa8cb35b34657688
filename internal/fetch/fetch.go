// Package fetch downloads Telegram files into memory within a size cap.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned for files above the configured cap
var ErrTooLarge = errors.New("file is too large")

// DefaultMaxSize is Telegram's getFile limit
const DefaultMaxSize int64 = 20 << 20

// URLResolver turns a Telegram file id into a direct download URL.
// *tgbotapi.BotAPI satisfies it.
type URLResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Downloader fetches files through a resolver
type Downloader struct {
	resolver URLResolver
	client   *http.Client
	maxSize  int64
}

// NewDownloader creates a downloader. maxSize <= 0 means DefaultMaxSize.
func NewDownloader(resolver URLResolver, client *http.Client, maxSize int64) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Downloader{resolver: resolver, client: client, maxSize: maxSize}
}

// MaxSize returns the cap in bytes
func (d *Downloader) MaxSize() int64 {
	return d.maxSize
}

// Download fetches fileID. declaredSize is the size Telegram reported, 0 if unknown.
func (d *Downloader) Download(ctx context.Context, fileID string, declaredSize int64) ([]byte, error) {
	if declaredSize > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, declaredSize, d.maxSize)
	}

	url, err := d.resolver.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return d.DownloadURL(ctx, url)
}

// DownloadURL fetches an arbitrary URL within the same cap
func (d *Downloader) DownloadURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if n > d.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxSize)
	}
	return buf.Bytes(), nil
}
