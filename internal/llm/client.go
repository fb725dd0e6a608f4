// Package llm is a stateless request builder and response adapter for a
// remote vision+text model speaking the Anthropic Messages protocol.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/internal/common"
)

const apiVersion = "2023-06-01"

// Config for the model client.
type Config struct {
	APIKey          string        // if empty, Analyze fails with ProviderAuth
	BaseURL         string        // default https://api.anthropic.com
	Model           string        // e.g. "claude-3-5-sonnet-20241022"
	MaxImages       int           // per-request image cap, default 8
	MaxOutputTokens int           // default when the request does not set one
	Timeout         time.Duration // http client timeout
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 8
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Analyze sends one multimodal request and returns the raw textual response.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", common.Errorf(common.KindProviderAuth, "model credentials are not configured")
	}

	rid := uuid.New().String()
	start := time.Now()

	images := req.Images
	if len(images) > c.cfg.MaxImages {
		c.logger.Warn("llm.images_dropped",
			"req_id", rid, "sent", c.cfg.MaxImages, "dropped", len(images)-c.cfg.MaxImages)
		images = images[:c.cfg.MaxImages]
	}

	blocks := make([]contentBlock, 0, 1+len(req.Texts)+len(images))
	if req.User != "" {
		blocks = append(blocks, contentBlock{Type: "text", Text: req.User})
	}
	for _, t := range req.Texts {
		blocks = append(blocks, contentBlock{Type: "text", Text: t})
	}
	for _, img := range images {
		blocks = append(blocks, contentBlock{Type: "image", Source: &imageSource{
			Type:      "base64",
			MediaType: img.MediaType,
			Data:      base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	if len(blocks) == 0 {
		return "", common.Errorf(common.KindProviderInvalidInput, "request has no content")
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxOutputTokens
	}

	body := map[string]any{
		"model":      c.cfg.Model,
		"max_tokens": maxTokens,
		"system":     req.System,
		"messages": []map[string]any{
			{"role": "user", "content": blocks},
		},
	}

	c.logger.Info("llm.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"texts", len(req.Texts),
		"images", len(images),
		"max_tokens", maxTokens,
	)

	raw, err := c.post(ctx, rid, body)
	if err != nil {
		c.logger.Error("llm.request_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", common.NewAppError(common.KindProviderOther, "undecodable model response", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", common.Errorf(common.KindProviderOther, "model returned no text")
	}

	c.logger.Info("llm.response",
		"req_id", rid,
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

func (c *Client) post(ctx context.Context, rid string, body map[string]any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, common.NewAppError(common.KindProviderOther, "encoding model request", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, common.NewAppError(common.KindProviderOther, "building model request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, common.NewAppError(common.KindProviderTimeout, "model request timed out", err)
		}
		return nil, common.NewAppError(common.KindProviderOther, "model request failed", err)
	}
	defer func(body io.ReadCloser) {
		if cerr := body.Close(); cerr != nil {
			c.logger.Warn("llm.response_body_close_error", "req_id", rid, "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 == 2 {
		return raw, nil
	}
	return nil, c.mapStatus(resp.StatusCode, raw)
}

// mapStatus translates provider HTTP statuses into the local taxonomy.
func (c *Client) mapStatus(status int, raw []byte) error {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &e)
	detail := e.Error.Message
	if detail == "" {
		detail = truncateBody(raw)
	}
	cause := fmt.Errorf("provider status %d: %s", status, detail)

	if e.Error.Type == "overloaded_error" || e.Error.Type == "rate_limit_error" {
		return common.NewAppError(common.KindProviderOverloaded, "model service is overloaded, try again later", cause)
	}
	switch status {
	case http.StatusTooManyRequests, 529:
		return common.NewAppError(common.KindProviderOverloaded, "model service is overloaded, try again later", cause)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return common.NewAppError(common.KindProviderInvalidInput, "model rejected the request content", cause)
	case http.StatusUnauthorized, http.StatusForbidden:
		return common.NewAppError(common.KindProviderAuth, "model credentials were rejected", cause)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return common.NewAppError(common.KindProviderTimeout, "model request timed out", cause)
	default:
		return common.NewAppError(common.KindProviderOther, "model request failed", cause)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncateBody(raw []byte) string {
	const max = 512
	s := string(raw)
	if len(s) > max {
		return s[:max] + "...(truncated)"
	}
	return s
}
