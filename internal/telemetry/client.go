// Package telemetry provides the client for the DePIN network identity API,
// the source of live device counts and fleet composition.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// ErrUnavailable signals that the telemetry source produced no usable data.
// Callers see exactly two outcomes at this boundary: data available, or this.
var ErrUnavailable = errors.New("telemetry data unavailable")

// topDistributionSize caps the make/model/year distributions in stats.
const topDistributionSize = 10

// Defaults applied when the corresponding Config fields are unset.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultBatchSize = 1000
)

// Config configures the telemetry client.
type Config struct {
	Endpoint  string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	APIToken  string        `yaml:"api_token" envconfig:"API_TOKEN"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	BatchSize int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
}

// Client queries the network identity GraphQL API.
type Client struct {
	endpoint  string
	apiToken  string
	batchSize int
	client    *http.Client
	logger    *slog.Logger
}

// NewClient creates a telemetry client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		apiToken:  cfg.APIToken,
		batchSize: batchSize,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Device is one connected device node from the identity API.
type Device struct {
	ID         string `json:"id"`
	Definition struct {
		Make  string `json:"make"`
		Model string `json:"model"`
		Year  int    `json:"year"`
	} `json:"definition"`
}

// DeviceBatch is one page of devices.
type DeviceBatch struct {
	TotalCount int      `json:"totalCount"`
	PageInfo   PageInfo `json:"pageInfo"`
	Nodes      []Device `json:"nodes"`
}

// PageInfo carries GraphQL cursor pagination state.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// NetworkStats aggregates the current state of the network.
type NetworkStats struct {
	TotalDevices     int64          `json:"total_devices"`
	Timestamp        time.Time      `json:"timestamp"`
	SampleSize       int            `json:"sample_size"`
	TopMakes         map[string]int `json:"top_makes,omitempty"`
	TopModels        map[string]int `json:"top_models,omitempty"`
	YearDistribution map[string]int `json:"year_distribution,omitempty"`
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query posts a GraphQL query and decodes the data payload into out.
func (c *Client) query(ctx context.Context, query string, out interface{}) error {
	if c.endpoint == "" {
		return fmt.Errorf("no telemetry endpoint configured: %w", ErrUnavailable)
	}

	body, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry request: %w: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WarnContext(ctx, "telemetry API returned non-200",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)))
		return fmt.Errorf("telemetry API status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w: %w", err, ErrUnavailable)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("telemetry API error: %s: %w", envelope.Errors[0].Message, ErrUnavailable)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("empty telemetry response: %w", ErrUnavailable)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w: %w", err, ErrUnavailable)
	}
	return nil
}

// TotalDevices returns the total connected device count.
func (c *Client) TotalDevices(ctx context.Context) (int64, error) {
	var data struct {
		Devices struct {
			TotalCount int64 `json:"totalCount"`
		} `json:"devices"`
	}
	query := `query { devices(first: 1) { totalCount } }`
	if err := c.query(ctx, query, &data); err != nil {
		return 0, err
	}
	return data.Devices.TotalCount, nil
}

// DeviceBatch fetches one page of devices with cursor pagination.
func (c *Client) DeviceBatch(ctx context.Context, first int, after string) (*DeviceBatch, error) {
	if first <= 0 {
		first = c.batchSize
	}
	afterClause := ""
	if after != "" {
		afterClause = fmt.Sprintf(", after: %q", after)
	}
	query := fmt.Sprintf(`query {
		devices(first: %d%s) {
			totalCount
			pageInfo { hasNextPage endCursor }
			nodes { id definition { make model year } }
		}
	}`, first, afterClause)

	var data struct {
		Devices DeviceBatch `json:"devices"`
	}
	if err := c.query(ctx, query, &data); err != nil {
		return nil, err
	}
	return &data.Devices, nil
}

// NetworkStats fetches the current totals and a sampled make/model/year
// distribution.
func (c *Client) NetworkStats(ctx context.Context) (*NetworkStats, error) {
	batch, err := c.DeviceBatch(ctx, c.batchSize, "")
	if err != nil {
		return nil, err
	}

	stats := &NetworkStats{
		TotalDevices: int64(batch.TotalCount),
		Timestamp:    time.Now().UTC(),
		SampleSize:   len(batch.Nodes),
	}

	if len(batch.Nodes) > 0 {
		makes := map[string]int{}
		models := map[string]int{}
		years := map[string]int{}
		for _, device := range batch.Nodes {
			makeName := device.Definition.Make
			if makeName == "" {
				makeName = "Unknown"
			}
			modelName := device.Definition.Model
			if modelName == "" {
				modelName = "Unknown"
			}
			makes[makeName]++
			models[modelName]++
			if device.Definition.Year != 0 {
				years[fmt.Sprintf("%d", device.Definition.Year)]++
			}
		}
		stats.TopMakes = topN(makes, topDistributionSize)
		stats.TopModels = topN(models, topDistributionSize)
		stats.YearDistribution = topN(years, topDistributionSize)
	}

	c.logger.InfoContext(ctx, "network stats collected",
		slog.Int64("total_devices", stats.TotalDevices),
		slog.Int("sample_size", stats.SampleSize))
	return stats, nil
}

// topN keeps the n highest-count entries of counts.
func topN(counts map[string]int, n int) map[string]int {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, entry{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	top := make(map[string]int, len(entries))
	for _, e := range entries {
		top[e.key] = e.count
	}
	return top
}
