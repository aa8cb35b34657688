// Package vk resolves VK communities and picks pictures from their walls.
package vk

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/object"

	"pod042/internal/models"
)

// WallPageSize is how many recent posts are scanned for pictures
const WallPageSize = 100

var (
	ErrNoGroups = errors.New("no VK groups configured")
	ErrNoPhotos = errors.New("no pictures on the wall")
)

var (
	screenNameRe = regexp.MustCompile(`^[A-Za-z0-9_.]{2,64}$`)
	numericRe    = regexp.MustCompile(`^(?:club|public|event)(\d+)$`)
	vkHosts      = map[string]bool{"vk.com": true, "m.vk.com": true, "www.vk.com": true, "vk.ru": true, "m.vk.ru": true}
)

// API is the subset of *api.VK the client calls
type API interface {
	GroupsGetByID(params api.Params) (api.GroupsGetByIDResponse, error)
	WallGet(params api.Params) (api.WallGetResponse, error)
}

// Rejected is an input line that could not be turned into a group
type Rejected struct {
	Line   string
	Reason string
}

func (r Rejected) String() string {
	return fmt.Sprintf("%s: %s", r.Line, r.Reason)
}

// Client wraps the VK API. It is safe for concurrent use.
type Client struct {
	api API

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewClient creates a client with a service or user token.
// httpClient may carry a proxy; nil keeps the SDK default.
func NewClient(token string, httpClient *http.Client) *Client {
	vk := api.NewVK(token)
	if httpClient != nil {
		vk.Client = httpClient
	}
	return NewWithAPI(vk, nil)
}

// NewWithAPI wraps an existing API implementation. A nil rng is seeded randomly.
func NewWithAPI(a API, rng *rand.Rand) *Client {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Client{api: a, rng: rng}
}

// ParseGroupRef extracts the screen name or numeric id from a link or name
func ParseGroupRef(line string) (string, error) {
	ref := strings.TrimSpace(line)
	if ref == "" {
		return "", errors.New("empty line")
	}

	if strings.Contains(ref, "/") {
		raw := ref
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("not a link: %w", err)
		}
		if !vkHosts[strings.ToLower(u.Host)] {
			return "", fmt.Errorf("not a VK link")
		}
		ref = strings.Trim(u.Path, "/")
		if i := strings.Index(ref, "/"); i >= 0 {
			ref = ref[:i]
		}
	}
	ref = strings.TrimPrefix(ref, "@")

	if m := numericRe.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if !screenNameRe.MatchString(ref) {
		return "", fmt.Errorf("not a group name")
	}
	return ref, nil
}

// ResolveGroups turns lines of links or names into groups. Lines that cannot
// be parsed or are unknown to VK are returned as rejected, not as an error.
func (c *Client) ResolveGroups(lines []string) ([]models.VkGroup, []Rejected) {
	var (
		groups   []models.VkGroup
		rejected []Rejected
		seen     = make(map[int]bool)
	)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ref, err := ParseGroupRef(line)
		if err != nil {
			rejected = append(rejected, Rejected{Line: line, Reason: err.Error()})
			continue
		}

		resp, err := c.api.GroupsGetByID(api.Params{"group_ids": ref})
		if err != nil {
			rejected = append(rejected, Rejected{Line: line, Reason: "not found on VK"})
			continue
		}
		if len(resp) == 0 {
			rejected = append(rejected, Rejected{Line: line, Reason: "not found on VK"})
			continue
		}
		g := toGroup(resp[0])
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		groups = append(groups, g)
	}
	return groups, rejected
}

// RandomPhoto picks a random group, then a random picture among its recent posts
func (c *Client) RandomPhoto(groups []models.VkGroup) (string, models.VkGroup, error) {
	if len(groups) == 0 {
		return "", models.VkGroup{}, ErrNoGroups
	}
	group := groups[c.intn(len(groups))]

	resp, err := c.api.WallGet(api.Params{
		"owner_id": -group.ID,
		"count":    WallPageSize,
	})
	if err != nil {
		return "", group, fmt.Errorf("wall.get %s: %w", group.ScreenName, err)
	}

	var urls []string
	for _, post := range resp.Items {
		urls = append(urls, photoURLs(post.Attachments)...)
		for _, repost := range post.CopyHistory {
			urls = append(urls, photoURLs(repost.Attachments)...)
		}
	}
	if len(urls) == 0 {
		return "", group, fmt.Errorf("%w: %s", ErrNoPhotos, group)
	}
	return urls[c.intn(len(urls))], group, nil
}

func (c *Client) intn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}

func photoURLs(attachments []object.WallWallpostAttachment) []string {
	var out []string
	for _, a := range attachments {
		if a.Type != "photo" {
			continue
		}
		if u := a.Photo.MaxSize().URL; u != "" {
			out = append(out, u)
		}
	}
	return out
}

func toGroup(g object.GroupsGroup) models.VkGroup {
	screen := g.ScreenName
	if screen == "" {
		screen = "club" + strconv.Itoa(g.ID)
	}
	return models.VkGroup{ID: g.ID, Name: g.Name, ScreenName: screen}
}
