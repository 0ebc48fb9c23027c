package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/integrations/paramstore"
)

const tokenParamName = "gemini-token"

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client produces chat completions through the Gemini API.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	temperature *float32

	once   sync.Once
	apiKey string
	gen    generator
	genErr error
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore makes the client read its key from <prefix>/gemini-token.
func WithParamStore(getter paramstore.Getter, prefix string) Option {
	return func(c *Client) {
		c.getter = getter
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

func withGenerator(g generator) Option {
	return func(c *Client) {
		c.gen = g
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.gen == nil && c.apiKey == "" {
		if c.getter == nil {
			return nil, errors.New("gemini: api key or paramstore getter must be set")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("gemini: parameter prefix must not be empty")
		}
	}
	return c, nil
}

// models builds the genai client on first use.
func (c *Client) models(ctx context.Context) (generator, error) {
	c.once.Do(func() {
		if c.gen != nil {
			return
		}
		if c.apiKey == "" {
			c.apiKey, c.genErr = paramstore.FetchToken(ctx, c.getter, paramstore.TokenName(c.paramPrefix, tokenParamName))
			if c.genErr != nil {
				return
			}
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			c.genErr = fmt.Errorf("gemini: create client: %w", err)
			return
		}
		c.gen = client.Models
	})
	return c.gen, c.genErr
}

// Chat maps messages onto Gemini contents and returns the concatenated text of
// the first candidate. System messages become the system instruction.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	gen, err := c.models(ctx)
	if err != nil {
		return "", err
	}

	system, contents := toContents(messages)
	if len(contents) == 0 {
		return "", errors.New("gemini: no conversational content")
	}
	cfg := &genai.GenerateContentConfig{Temperature: c.temperature}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", errors.New("gemini: no content in response")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("gemini: empty completion")
	}
	return text, nil
}

func toContents(messages []domain.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
