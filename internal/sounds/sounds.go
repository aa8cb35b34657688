// Package sounds loads the soundboard catalog.
package sounds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"pod042/internal/models"
)

// Soundboard categories
const (
	CategoryJojo  = "jojo"
	CategoryGachi = "gachi"
)

// Catalog is an immutable list of clips grouped by category
type Catalog struct {
	sounds     []models.Sound
	byCategory map[string][]models.Sound
}

// New builds a catalog from sounds. Entries without a URL are dropped.
func New(sounds []models.Sound) *Catalog {
	c := &Catalog{byCategory: make(map[string][]models.Sound)}
	for _, s := range sounds {
		if s.FullURL == "" {
			continue
		}
		s.Category = strings.ToLower(strings.TrimSpace(s.Category))
		if s.PrettyName == "" {
			s.PrettyName = s.FullURL
		}
		c.sounds = append(c.sounds, s)
		c.byCategory[s.Category] = append(c.byCategory[s.Category], s)
	}
	return c
}

// Load reads a JSON array of sounds. A missing file is an empty catalog.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Sound catalog not found, soundboards are empty", zap.String("path", path))
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sound catalog: %w", err)
	}

	var list []models.Sound
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode sound catalog %s: %w", path, err)
	}

	c := New(list)
	logger.Info("Sound catalog loaded",
		zap.String("path", path),
		zap.Int("sounds", c.Len()),
		zap.Strings("categories", c.Categories()),
	)
	return c, nil
}

// Len returns the number of clips
func (c *Catalog) Len() int {
	return len(c.sounds)
}

// Categories returns the sorted category names
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.byCategory))
	for k := range c.byCategory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ByCategory returns the clips of one category in catalog order
func (c *Catalog) ByCategory(category string) []models.Sound {
	return c.byCategory[strings.ToLower(category)]
}

// Find returns the clip of category whose name matches, ignoring case
func (c *Catalog) Find(category, name string) (models.Sound, bool) {
	name = strings.TrimSpace(name)
	for _, s := range c.ByCategory(category) {
		if strings.EqualFold(s.PrettyName, name) {
			return s, true
		}
	}
	return models.Sound{}, false
}

// Search answers an inline query of the form "[category] [filter]".
// If the first word is not a category, the whole query filters every clip.
func (c *Catalog) Search(query string, limit int) []models.Sound {
	words := strings.Fields(strings.ToLower(query))

	pool := c.sounds
	if len(words) > 0 {
		if list, ok := c.byCategory[words[0]]; ok {
			pool = list
			words = words[1:]
		}
	}
	filter := strings.Join(words, " ")

	var out []models.Sound
	for _, s := range pool {
		if filter != "" && !strings.Contains(strings.ToLower(s.PrettyName), filter) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
