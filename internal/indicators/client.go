package indicators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/playbookhq/readiness-engine/internal/cache"
	"github.com/playbookhq/readiness-engine/internal/models"
)

// Client fetches indicator series from the external intelligence feed gateway.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient constructs a Client targeting the configured gateway. provider may be nil.
func NewClient(baseURL, feedPath string, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if feedPath == "" {
		feedPath = "/api/v1/indicators"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       feedPath,
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

type feedResponse struct {
	Indicators []struct {
		Source      string `json:"source"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Horizon     string `json:"horizon"`
		Points      []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"points"`
	} `json:"indicators"`
}

// FetchIndicators returns the indicator series of one category for orgID. Responses are
// memoized in the cache for the configured TTL.
func (c *Client) FetchIndicators(ctx context.Context, orgID string, category models.SignalType) ([]models.Indicator, error) {
	if c == nil {
		return nil, fmt.Errorf("indicator client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("indicator feed base URL not configured")
	}

	key := cache.IndicatorKey(orgID, string(category))
	if cached, ok := c.fromCache(ctx, key); ok {
		return cached, nil
	}

	payload := map[string]interface{}{
		"organization_id": orgID,
		"category":        string(category),
	}
	var response feedResponse
	if err := c.postJSON(ctx, c.resolvePath(c.path), payload, &response); err != nil {
		return nil, fmt.Errorf("indicator feed request failed: %w", err)
	}

	out := make([]models.Indicator, 0, len(response.Indicators))
	for _, ind := range response.Indicators {
		item := models.Indicator{
			Source:      ind.Source,
			Name:        ind.Name,
			Description: ind.Description,
			Horizon:     ind.Horizon,
			Points:      make([]models.IndicatorPoint, 0, len(ind.Points)),
		}
		for _, p := range ind.Points {
			item.Points = append(item.Points, models.IndicatorPoint{Timestamp: p.Timestamp, Value: p.Value})
		}
		out = append(out, item)
	}

	c.toCache(ctx, key, out)
	return out, nil
}

func (c *Client) fromCache(ctx context.Context, key string) ([]models.Indicator, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("indicator cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var out []models.Indicator
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *Client) toCache(ctx context.Context, key string, indicators []models.Indicator) {
	if c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(indicators)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		c.logger.Debug("indicator cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indicator feed returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
