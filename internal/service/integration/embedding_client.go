package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) models.Outcome[[]float32]
}

type EmbeddingClientConfig struct {
	BaseURL       string
	Endpoint      string
	Model         string
	APIKey        string
	Dimension     int
	Timeout       time.Duration
	RetryCount    int
	RetryDelay    time.Duration
	RatePerSecond float64
	Burst         int
}

type embeddingClient struct {
	url     string
	config  EmbeddingClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Prompt string `json:"prompt"`
}

// embeddingResponse covers the OpenAI, Ollama and batched Ollama shapes.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (r *embeddingResponse) vector() []float32 {
	switch {
	case len(r.Data) > 0 && len(r.Data[0].Embedding) > 0:
		return r.Data[0].Embedding
	case len(r.Embedding) > 0:
		return r.Embedding
	case len(r.Embeddings) > 0:
		return r.Embeddings[0]
	default:
		return nil
	}
}

func NewEmbeddingClient(config EmbeddingClientConfig, logger zerolog.Logger) EmbeddingClient {
	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &embeddingClient{
		url:    strings.TrimRight(config.BaseURL, "/") + config.Endpoint,
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (c *embeddingClient) Embed(ctx context.Context, text string) models.Outcome[[]float32] {
	vector, err := c.embed(ctx, text)
	if err != nil {
		return models.Degraded[[]float32](err)
	}
	return models.Ok(vector)
}

func (c *embeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:  c.config.Model,
		Input:  text,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	var lastErr error

	for i := 0; i <= c.config.RetryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Err(lastErr).Msg("Retrying embedding request")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(c.config.RetryDelay * time.Duration(i)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}

		vector, retry, err := c.do(ctx, body)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

// do performs one request; retry reports whether the failure is transient.
func (c *embeddingClient) do(ctx context.Context, body []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	vector := decoded.vector()
	if len(vector) == 0 {
		return nil, false, errors.New("embedding response contains no vector")
	}
	if c.config.Dimension > 0 && len(vector) != c.config.Dimension {
		return nil, false, fmt.Errorf("embedding has dimension %d, expected %d", len(vector), c.config.Dimension)
	}

	return vector, false, nil
}
