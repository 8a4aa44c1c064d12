package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/harun/kawan/pkg/skills"
	"github.com/rs/zerolog"
)

const (
	catalogTTL     = 5 * time.Minute
	catalogTimeout = 8 * time.Second
)

// catalogEntry is the upstream /skills wire format.
type catalogEntry struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	Source      string `json:"source"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// skillCatalog fetches and caches an upstream tool catalog. Fetch results
// stay fresh for five minutes; on fetch failure the last good catalog is
// served instead of the error.
type skillCatalog struct {
	endpoint string
	token    string
	httpc    *http.Client
	logger   zerolog.Logger

	mu        sync.Mutex
	cached    []skills.Manifest
	fetchedAt time.Time
}

func newSkillCatalog(endpoint, token string, logger zerolog.Logger) *skillCatalog {
	return &skillCatalog{
		endpoint: endpoint,
		token:    token,
		httpc:    &http.Client{Timeout: catalogTimeout},
		logger:   logger,
	}
}

// Fetch returns the upstream skill manifests, cached up to the TTL.
func (c *skillCatalog) Fetch(ctx context.Context) ([]skills.Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < catalogTTL {
		return c.cached, nil
	}

	manifests, err := c.fetch(ctx)
	if err != nil {
		if c.cached != nil {
			c.logger.Warn().Err(err).Msg("Skill catalog fetch failed, serving stale cache")
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = manifests
	c.fetchedAt = time.Now()
	return manifests, nil
}

func (c *skillCatalog) fetch(ctx context.Context) ([]skills.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/skills", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog request returned %d: %s", resp.StatusCode, body)
	}

	var entries []catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}

	manifests := make([]skills.Manifest, 0, len(entries))
	for _, e := range entries {
		desc := e.Description
		if desc == "" {
			desc = e.Content
		}
		manifests = append(manifests, skills.Manifest{
			Name:        e.Name,
			Version:     "0.0.0",
			Description: desc,
			Author:      e.Source,
		})
	}
	return manifests, nil
}
