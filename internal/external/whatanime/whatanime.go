// Package whatanime is a client for the whatanime.ga scene search API.
package whatanime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the public service
	DefaultEndpoint = "https://whatanime.ga"
	// MaxEncodedSize is the largest base64 payload the service accepts
	MaxEncodedSize = 1 << 20

	jpegQuality = 90
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/64.0.3253.3 Safari/537.36"
)

var (
	ErrNotImage      = errors.New("file is not a picture")
	ErrTooLarge      = errors.New("picture is larger than 1 MiB in base64")
	ErrQuotaExceeded = errors.New("search quota exceeded")
	ErrUnauthorized  = errors.New("invalid whatanime token")
)

// Me is the account information returned by /api/me
type Me struct {
	UserID      int    `json:"user_id"`
	Email       string `json:"email"`
	Quota       int    `json:"quota"`
	QuotaTTL    int    `json:"quota_ttl"`
	NowQuota    int    `json:"now_quota"`
	QuotaExpire int    `json:"quota_expire"`
}

// Episode is either a number or free text such as "OVA"
type Episode string

func (e *Episode) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Episode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("episode: %w", err)
	}
	*e = Episode(n.String())
	return nil
}

// Doc is one matching scene
type Doc struct {
	From            float64  `json:"from"`
	To              float64  `json:"to"`
	At              float64  `json:"at"`
	Episode         Episode  `json:"episode"`
	Similarity      float64  `json:"similarity"`
	AnilistID       int      `json:"anilist_id"`
	Title           string   `json:"title"`
	TitleChinese    string   `json:"title_chinese"`
	TitleEnglish    string   `json:"title_english"`
	TitleRomaji     string   `json:"title_romaji"`
	Synonyms        []string `json:"synonyms"`
	SynonymsChinese []string `json:"synonyms_chinese"`
	Season          string   `json:"season"`
	Anime           string   `json:"anime"`
	Filename        string   `json:"filename"`
	TokenThumb      string   `json:"tokenthumb"`
}

func (d Doc) String() string {
	return fmt.Sprintf("%s EP#%s, similarity: %.4f", d.TitleRomaji, d.Episode, d.Similarity)
}

// SearchResult is the /api/search response
type SearchResult struct {
	RawDocsCount int   `json:"RawDocsCount"`
	Docs         []Doc `json:"docs"`
	Quota        int   `json:"quota"`
	Expire       int   `json:"expire"`
}

// Client talks to a whatanime.ga compatible endpoint
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient sets the transport, e.g. one with a proxy
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRateLimit allows one request per interval with the given burst
func WithRateLimit(interval time.Duration, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Every(interval), burst) }
}

// NewClient creates a client. An empty endpoint means DefaultEndpoint.
func NewClient(endpoint, token string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me loads account and quota information
func (c *Client) Me(ctx context.Context) (*Me, error) {
	u := c.endpoint + "/api/me?" + url.Values{"token": {c.token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var me Me
	if err := c.doJSON(req, &me); err != nil {
		return nil, fmt.Errorf("whatanime me: %w", err)
	}
	return &me, nil
}

// Search looks up the scene shown in picture
func (c *Client) Search(ctx context.Context, picture []byte) (*SearchResult, error) {
	encoded, err := EncodePicture(picture)
	if err != nil {
		return nil, err
	}

	// The service expects the data URI wrapped in single quotes
	form := url.Values{"image": {"'data:image/jpeg;base64," + encoded + "'"}}
	u := c.endpoint + "/api/search?" + url.Values{"token": {c.token}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	var result SearchResult
	if err := c.doJSON(req, &result); err != nil {
		return nil, fmt.Errorf("whatanime search: %w", err)
	}
	return &result, nil
}

// EncodePicture re-encodes any supported picture as base64 JPEG
func EncodePicture(picture []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(picture))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if len(encoded) > MaxEncodedSize {
		return "", ErrTooLarge
	}
	return encoded, nil
}

// ThumbnailURL returns the scene thumbnail address for doc
func (c *Client) ThumbnailURL(doc Doc) string {
	return c.endpoint + "/thumbnail.php?" + mediaParams(doc).Encode()
}

// PreviewURL returns the short video preview address for doc
func (c *Client) PreviewURL(doc Doc) string {
	return c.endpoint + "/preview.php?" + mediaParams(doc).Encode()
}

// Thumbnail downloads the scene thumbnail
func (c *Client) Thumbnail(ctx context.Context, doc Doc) ([]byte, error) {
	return c.download(ctx, c.ThumbnailURL(doc))
}

// Preview downloads the video preview. Not every scene has one.
func (c *Client) Preview(ctx context.Context, doc Doc) ([]byte, error) {
	return c.download(ctx, c.PreviewURL(doc))
}

func mediaParams(doc Doc) url.Values {
	return url.Values{
		"season": {doc.Season},
		"anime":  {doc.Anime},
		"file":   {doc.Filename},
		"t":      {strconv.FormatFloat(doc.At, 'f', -1, 64)},
		"token":  {doc.TokenThumb},
	}
}

func (c *Client) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response from %s", req.URL.Path)
	}
	return data, nil
}

func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrQuotaExceeded
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}
