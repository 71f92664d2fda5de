package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/shapeschat/internal/config"
	"github.com/comigor/shapeschat/internal/logger"
)

// NoResponse is returned as the reply when the API answers without choices.
const NoResponse = "No response received"

// ErrNoCredential is wrapped as Unauthenticated when no key is configured.
var ErrNoCredential = errors.New("API key not set")

// CredentialSource yields the current bearer key.
type CredentialSource interface {
	Get() string
}

// Completer turns a message plus history into one assistant reply.
type Completer struct {
	creds   CredentialSource
	factory func(apiKey string) Client

	mu      sync.Mutex
	client  Client
	lastKey string
}

// NewCompleter talks to cfg.BaseURL with whatever key creds holds at call time.
func NewCompleter(cfg config.ShapesConfig, creds CredentialSource) *Completer {
	return NewCompleterWithFactory(creds, func(apiKey string) Client {
		return NewClient(cfg, apiKey)
	})
}

// NewCompleterWithFactory lets tests supply the underlying client.
func NewCompleterWithFactory(creds CredentialSource, factory func(apiKey string) Client) *Completer {
	return &Completer{creds: creds, factory: factory}
}

// clientFor rebuilds the client whenever the credential changes.
func (c *Completer) clientFor(apiKey string) Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || apiKey != c.lastKey {
		logger.L.Debug("creating completion client", "key", logger.Mask(apiKey))
		c.client = c.factory(apiKey)
		c.lastKey = apiKey
	}
	return c.client
}

// Complete sends history followed by message to model and returns the reply
// text. Failures are always a *CompletionError.
func (c *Completer) Complete(ctx context.Context, model, message string, history []Turn) (string, error) {
	apiKey := c.creds.Get()
	if apiKey == "" {
		return "", &CompletionError{Kind: KindUnauthenticated, Err: ErrNoCredential}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := c.clientFor(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		ce := Classify(err)
		logger.L.Error("completion call failed", "model", model, "kind", ce.Kind, "error", err)
		return "", ce
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return NoResponse, nil
	}
	return resp.Choices[0].Message.Content, nil
}
