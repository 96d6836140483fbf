// Package provider talks to OpenAI-compatible inference endpoints (OpenAI,
// Ollama's /v1, vLLM) for embeddings and text generation.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sethvargo/go-retry"

	"course-rag/config"
	"course-rag/logger"
)

// Generator produces the model's answer for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client implements rag.Embedder and Generator.
type Client struct {
	client     openai.Client
	embedModel string
	chatModel  string
	maxRetries uint64
	retryDelay time.Duration
	log        *logger.Logger
}

func New(cfg config.ProviderConfig, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		// retries are handled below, one policy only
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if log == nil {
		log = logger.Nop()
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Client{
		client:     openai.NewClient(opts...),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		maxRetries: cfg.MaxRetries,
		retryDelay: delay,
		log:        log.With("component", "provider"),
	}
}

func (c *Client) EmbedModel() string { return c.embedModel }

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var out [][]float64
	err := c.do(ctx, "embed", func(ctx context.Context) error {
		resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model:          openai.EmbeddingModel(c.embedModel),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return err
		}

		data := slices.Clone(resp.Data)
		slices.SortStableFunc(data, func(a, b openai.Embedding) int {
			return int(a.Index - b.Index)
		})
		out = make([][]float64, len(data))
		for i, d := range data {
			if d.Index != int64(i) {
				return fmt.Errorf("embedding response indices are not 0..%d: got %d at position %d", len(data)-1, d.Index, i)
			}
			out[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var answer string
	err := c.do(ctx, "generate", func(ctx context.Context) error {
		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.chatModel),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("generation returned no choices")
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	return answer, err
}

// do runs call with Fibonacci backoff up to maxRetries extra attempts. When
// retries run out, the last error from call is returned as is.
func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if c.maxRetries == 0 {
		return call(ctx)
	}

	attempt := 0
	b := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.retryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := call(ctx)
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		c.log.Warn("provider call failed, retrying", "op", op, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == 408 || code == 409 || code == 429 || code >= 500
	}
	return true
}

// Unavailable is the Generator used when no generation endpoint is configured.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("no generation provider configured")
}
