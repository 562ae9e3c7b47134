// Package gemini adapts the Google Gemini API to the embedding provider and
// answer generator interfaces the rest of the system consumes.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/log"
)

// VectorDimension is the embedding width requested from the provider. It
// must match the vector column width in the schema.
const VectorDimension = 768

// ErrEmptyResponse reports a provider response with no usable content.
var ErrEmptyResponse = errors.New("empty provider response")

// Client wraps a genai client with rate limiting and per-call timeouts. It
// implements embedding.Provider and chat.Generator.
type Client struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps provider calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// New dials the Gemini API.
func New(ctx context.Context, apiKey, chatModel, embedModel string, logger log.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	c := &Client{
		client:     client,
		chatModel:  chatModel,
		embedModel: embedModel,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		timeout:    30 * time.Second,
		logger:     logger.With("component", "gemini"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Embed returns a VectorDimension-wide embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: genai.Ptr[int32](VectorDimension)},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0].Values, nil
}

// Generate produces one answer for the given system instruction and
// conversation history.
func (c *Client) Generate(ctx context.Context, systemInstruction string, history []chat.Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, toContents(history),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	answer := resp.Text()
	if answer == "" {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("generation complete",
		"model", c.chatModel, "duration", time.Since(start), "answer_length", len(answer))
	return answer, nil
}

// toContents converts session history into the provider's wire format.
// Unknown roles are treated as user turns.
func toContents(history []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, len(history))
	for i, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		contents[i] = genai.NewContentFromText(msg.Content, role)
	}
	return contents
}
