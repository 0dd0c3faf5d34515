package standardize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/grocerly/go-ingredient-worker/internal/domain"
)

// Config holds the settings for the standardizer client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout is the hard per-call deadline. A timed-out call degrades to
	// the fallback path, it never hangs the batch.
	Timeout time.Duration
	// RetryCount/RetryWait govern retries on 429 and 5xx responses with
	// exponential backoff. Retries happen inside the Timeout budget.
	RetryCount int
	RetryWait  time.Duration
}

// Client is a stateless wrapper around the external text-completion service.
type Client struct {
	http *resty.Client
	cfg  Config
	log  zerolog.Logger
}

// NewClient builds a standardizer client. Transient upstream failures
// (429/5xx) are retried with backoff; everything else fails fast into the
// fallback path.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &Client{http: rc, cfg: cfg, log: log}
}

// chatMessage / chatRequest / chatResponse mirror the completion API wire
// shape. Only the first choice's message content is consumed.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Standardize submits a batch of items for canonicalization and returns one
// result per input (plus compound splits). It never returns an error: on any
// transport or parse failure every input in the request gets its
// deterministic fallback result.
func (c *Client) Standardize(ctx context.Context, items []Item, sctx domain.Context, vocabulary []string) []Result {
	if len(items) == 0 {
		return nil
	}

	prompt, err := buildStandardizePrompt(items, sctx, vocabulary)
	if err != nil {
		c.log.Error().Err(err).Int("items", len(items)).Msg("standardize prompt build failed; using fallback")
		return FallbackResults(items)
	}

	content, err := c.complete(ctx, prompt)
	if err != nil {
		c.log.Warn().Err(err).Int("items", len(items)).Msg("standardizer call failed; using fallback")
		return FallbackResults(items)
	}

	results, err := decodeResults(content, items)
	if err != nil {
		c.log.Warn().Err(err).Int("items", len(items)).Msg("standardizer response malformed; using fallback")
		return FallbackResults(items)
	}
	return results
}

// StandardizeUnits submits a batch for unit/quantity normalization. Same
// degradation contract as Standardize: a failed call yields no proposals
// (the caller leaves the rows pending), never an error.
func (c *Client) StandardizeUnits(ctx context.Context, items []Item) []UnitResult {
	if len(items) == 0 {
		return nil
	}

	prompt, err := buildUnitPrompt(items)
	if err != nil {
		c.log.Error().Err(err).Int("items", len(items)).Msg("unit prompt build failed")
		return nil
	}

	content, err := c.complete(ctx, prompt)
	if err != nil {
		c.log.Warn().Err(err).Int("items", len(items)).Msg("unit standardizer call failed")
		return nil
	}

	results, err := decodeUnitResults(content, items)
	if err != nil {
		c.log.Warn().Err(err).Int("items", len(items)).Msg("unit standardizer response malformed")
		return nil
	}
	return results
}

// complete performs one chat-completion round trip and returns the raw
// content of the first choice.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0.1,
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("standardizer status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion content")
	}
	return out.Choices[0].Message.Content, nil
}

// decodeResults strictly decodes the model's JSON array. Any shape mismatch
// (non-array payload, entry with unknown id, confidence out of range,
// category outside the fixed enum) rejects the whole response so partial
// data is never trusted.
func decodeResults(content string, items []Item) ([]Result, error) {
	known := KnownIDs(items)

	var raw []Result
	if err := json.Unmarshal([]byte(extractJSONArray(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode results: empty array")
	}

	for i, r := range raw {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("result %d: missing id", i)
		}
		if _, ok := known[BaseID(r.ID, known)]; !ok {
			return nil, fmt.Errorf("result %d: unknown id %q", i, r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("result %d: confidence %v out of range", i, r.Confidence)
		}
		if r.Category != nil && !domain.ValidCategory(*r.Category) {
			return nil, fmt.Errorf("result %d: unknown category %q", i, *r.Category)
		}
	}
	return raw, nil
}

// decodeUnitResults strictly decodes the unit-pass response array.
func decodeUnitResults(content string, items []Item) ([]UnitResult, error) {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}

	var raw []UnitResult
	if err := json.Unmarshal([]byte(extractJSONArray(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode unit results: %w", err)
	}
	for i, r := range raw {
		if _, ok := known[r.ID]; !ok {
			return nil, fmt.Errorf("unit result %d: unknown id %q", i, r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("unit result %d: confidence %v out of range", i, r.Confidence)
		}
		if strings.TrimSpace(r.Unit) == "" {
			return nil, fmt.Errorf("unit result %d: empty unit", i)
		}
	}
	return raw, nil
}

// extractJSONArray trims completion wrappers (markdown fences, prose) around
// the outermost JSON array. The decode itself stays strict.
func extractJSONArray(content string) string {
	s := strings.TrimSpace(content)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
