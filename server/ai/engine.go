package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/papertalk/papertalk/chat"
)

// Config holds the answer engine configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		APIKey:     "",
		ChatModel:  "gpt-4o-mini",
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
}

// Engine answers user questions about their uploaded documents. It
// retrieves the most relevant passages and asks an OpenAI-compatible model
// to answer grounded in them.
type Engine struct {
	client    *openai.Client
	config    *Config
	retriever *Retriever
}

// NewEngine creates a new answer engine.
func NewEngine(cfg *Config, retriever *Retriever) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Engine{
		client:    openai.NewClientWithConfig(clientConfig),
		config:    cfg,
		retriever: retriever,
	}, nil
}

// Answer produces the assistant turn for a transcript whose last turn is
// the user's question. The returned turn cites the documents whose
// passages grounded the answer.
func (e *Engine) Answer(ctx context.Context, creatorID int32, turns []chat.Turn) (chat.Turn, error) {
	question := lastUserText(turns)
	if question == "" {
		return chat.Turn{}, fmt.Errorf("transcript has no user question")
	}

	passages, err := e.retriever.Retrieve(ctx, creatorID, question)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("failed to retrieve passages: %w", err)
	}

	messages := buildMessages(turns, passages)

	var answer string
	err = e.doWithRetry(ctx, func() error {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    e.config.ChatModel,
			Messages: messages,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return chat.Turn{}, fmt.Errorf("failed to complete chat: %w", err)
	}

	return chat.AssistantTurn(answer, sourceFilenames(passages)), nil
}

// buildMessages assembles the model prompt: a grounding system message
// with the retrieved passages, followed by the conversation history.
func buildMessages(turns []chat.Turn, passages []Passage) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString("You answer questions about the user's uploaded documents. ")
	if len(passages) == 0 {
		sb.WriteString("No document passages matched the question; say so if you cannot answer from the documents.")
	} else {
		sb.WriteString("Answer using the following passages and cite the document names you used.\n")
		for _, p := range passages {
			sb.WriteString(fmt.Sprintf("\n[%s]\n%s\n", p.Filename, p.Text))
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: sb.String(),
	})
	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text,
		})
	}
	return messages
}

// sourceFilenames returns the distinct filenames behind passages, in rank
// order.
func sourceFilenames(passages []Passage) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range passages {
		if _, ok := seen[p.Filename]; ok {
			continue
		}
		seen[p.Filename] = struct{}{}
		names = append(names, p.Filename)
	}
	return names
}

func lastUserText(turns []chat.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == chat.RoleUser {
			return turns[i].Text
		}
	}
	return ""
}

// doWithRetry executes a function with exponential backoff retry.
func (e *Engine) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < e.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("chat completion failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
