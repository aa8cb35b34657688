// Package iqdb searches image boards through iqdb.org.
package iqdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/net/html"
)

const (
	DefaultEndpoint = "https://iqdb.org"
	// MaxSide is the exclusive limit for either side of the picture
	MaxSide = 7500
	// MaxSize is the largest upload iqdb accepts
	MaxSize = 8 << 20

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/64.0.3253.3 Safari/537.36"
)

var (
	ErrNotImage    = errors.New("file is not a picture")
	ErrTooLarge    = errors.New("image is larger than 8MB")
	ErrTooWide     = errors.New("image height or width is 7500px or more")
	ErrBadResponse = errors.New("unexpected iqdb response")
)

// Match types as printed in the table headers
const (
	MatchYourImage  = "Your image"
	MatchBest       = "Best match"
	MatchAdditional = "Additional match"
	MatchPossible   = "Possible match"
	MatchNone       = "No relevant matches"
)

// Match is one result table
type Match struct {
	Type        string
	PreviewLink string
	SourceLink  string
	Resolution  string
	Rating      string
	Similarity  int
	Tags        []string
}

func (m Match) String() string {
	return fmt.Sprintf("%s: %d%%, %s %s; %s", m.Type, m.Similarity, m.Resolution, m.Rating, m.SourceLink)
}

// Result is a parsed results page
type Result struct {
	// Timing is the "Searched N images in X seconds." line
	Timing  string
	Matches []Match
}

// Client posts pictures to iqdb
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client. A nil httpClient gets a 60 second timeout.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{endpoint: strings.TrimRight(endpoint, "/"), http: httpClient}
}

// PreparePicture validates picture and converts it to PNG
func PreparePicture(picture []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(picture))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() >= MaxSide || bounds.Dy() >= MaxSide {
		return nil, ErrTooWide
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if buf.Len() > MaxSize {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// Search uploads picture and parses the results page
func (c *Client) Search(ctx context.Context, picture []byte) (*Result, error) {
	prepared, err := PreparePicture(picture)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(prepared); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("iqdb search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrBadResponse, resp.Status)
	}

	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("iqdb search: %w", err)
	}
	return c.ParsePage(page)
}

// ParsePage reads the matches out of a results page
func (c *Client) ParsePage(page []byte) (*Result, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	result := &Result{}
	if p := find(root, func(n *html.Node) bool {
		return n.Data == "p" && strings.Contains(attr(n, "style"), "font-size: small")
	}); p != nil {
		result.Timing = textContent(p)
	}

	pages := find(root, func(n *html.Node) bool {
		return n.Data == "div" && attr(n, "id") == "pages"
	})
	if pages == nil {
		return nil, fmt.Errorf("%w: no results block", ErrBadResponse)
	}

	for box := pages.FirstChild; box != nil; box = box.NextSibling {
		if box.Type != html.ElementNode || box.Data != "div" {
			continue
		}
		table := find(box, func(n *html.Node) bool { return n.Data == "table" })
		if table == nil {
			continue
		}
		if m, ok := c.parseTable(table); ok {
			result.Matches = append(result.Matches, m)
		}
	}
	return result, nil
}

func (c *Client) parseTable(table *html.Node) (Match, bool) {
	rows := findAll(table, func(n *html.Node) bool { return n.Data == "tr" })
	if len(rows) == 0 {
		return Match{}, false
	}

	var m Match
	if th := find(rows[0], func(n *html.Node) bool { return n.Data == "th" }); th != nil {
		m.Type = textContent(th)
	}
	if m.Type == MatchYourImage || len(rows) < 2 {
		return Match{}, false
	}

	link := find(rows[1], func(n *html.Node) bool { return n.Data == "a" })
	if link == nil {
		return Match{}, false
	}
	m.SourceLink = attr(link, "href")
	if strings.HasPrefix(m.SourceLink, "//") {
		m.SourceLink = "http:" + m.SourceLink
	}
	if img := find(link, func(n *html.Node) bool { return n.Data == "img" }); img != nil {
		src := attr(img, "src")
		if strings.HasPrefix(src, "/") && !strings.HasPrefix(src, "//") {
			src = c.endpoint + src
		}
		m.PreviewLink = src
		m.Tags = parseTags(attr(img, "title"))
	}

	// Rows after the preview: optional source name, "WxH [Rating]", "NN% similarity"
	for _, row := range rows[2:] {
		text := textContent(row)
		switch {
		case strings.HasSuffix(text, "similarity"):
			pct := strings.TrimSpace(strings.SplitN(text, "%", 2)[0])
			m.Similarity, _ = strconv.Atoi(pct)
		case strings.Contains(text, "[") && strings.Contains(text, "]"):
			parts := strings.SplitN(text, " ", 2)
			m.Resolution = parts[0]
			if len(parts) == 2 {
				m.Rating = parts[1]
			}
		}
	}
	return m, true
}

func parseTags(title string) []string {
	_, tags, ok := strings.Cut(title, "Tags: ")
	if !ok {
		return nil
	}
	sep := " "
	if strings.Contains(tags, ",") {
		sep = ","
	}
	var out []string
	for _, tag := range strings.Split(tags, sep) {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
