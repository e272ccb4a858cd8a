// Package chat answers questions from retrieved document chunks and the session's
// conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/index"
	"github.com/bull/pdfchat/internal/llm"
	"github.com/bull/pdfchat/internal/memory"
)

const (
	DefaultTopK    = 5
	DefaultTimeout = 60 * time.Second
	// DefaultSession is used when a question carries no session id.
	DefaultSession = "default"

	// SystemPrompt is the fixed instruction sent with every question.
	SystemPrompt = "You are a helpful assistant. Answer the question using the provided " +
		"document excerpts and the conversation so far. If the excerpts do not contain the " +
		"answer, say so."

	rolePrefix = "assistant:"
)

// Retriever finds chunks relevant to a question. *index.Index implements it.
type Retriever interface {
	Ready(ctx context.Context, namespace string) (bool, error)
	Query(ctx context.Context, namespace, text string, topK int) ([]domain.ScoredChunk, error)
}

var _ Retriever = (*index.Index)(nil)

// Question is one user request.
type Question struct {
	Namespace string
	SessionID string
	Text      string
}

// Answer is a generated reply and the chunks it was grounded on.
type Answer struct {
	Text    string
	Sources []domain.ScoredChunk
}

// Options configures a Composer.
type Options struct {
	TopK    int
	Timeout time.Duration
	Logger  *zap.Logger
}

// Composer runs the retrieve-then-generate flow.
type Composer struct {
	retriever Retriever
	memory    memory.Store
	provider  llm.Provider
	topK      int
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Composer.
func New(retriever Retriever, mem memory.Store, provider llm.Provider, opts Options) *Composer {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Composer{
		retriever: retriever,
		memory:    mem,
		provider:  provider,
		topK:      opts.TopK,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// Answer returns the reply text for q.
func (c *Composer) Answer(ctx context.Context, q Question) (string, error) {
	a, err := c.AnswerWithSources(ctx, q)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

// AnswerWithSources answers q and reports the retrieved chunks. The question and answer
// are added to the session's memory only when generation succeeds.
func (c *Composer) AnswerWithSources(ctx context.Context, q Question) (*Answer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question is empty", domain.ErrInvalidArgument)
	}
	namespace := domain.NormalizeNamespace(q.Namespace)
	session := q.SessionID
	if session == "" {
		session = DefaultSession
	}

	ready, err := c.retriever.Ready(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, fmt.Errorf("%w: namespace %q", domain.ErrIndexNotReady, namespace)
	}

	history, err := c.memory.History(ctx, namespace, session)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	sources, err := c.retriever.Query(ctx, namespace, text, c.topK)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := c.generate(ctx, buildMessages(history, sources, text))
	if err != nil {
		c.logger.Warn("answer generation failed",
			zap.String("namespace", namespace),
			zap.String("session_id", session),
			zap.Error(err))
		return nil, err
	}

	err = c.memory.Append(ctx, namespace, session,
		domain.Turn{Role: domain.RoleUser, Content: text},
		domain.Turn{Role: domain.RoleAssistant, Content: reply},
	)
	if err != nil {
		c.logger.Warn("failed to record conversation turn",
			zap.String("namespace", namespace),
			zap.String("session_id", session),
			zap.Error(err))
	}

	c.logger.Info("answered question",
		zap.String("namespace", namespace),
		zap.String("session_id", session),
		zap.Int("chunks", len(sources)),
		zap.Duration("duration", time.Since(start)))

	return &Answer{Text: reply, Sources: sources}, nil
}

func (c *Composer) generate(ctx context.Context, messages []llm.Message) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.provider.Complete(gctx, messages)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			return "", fmt.Errorf("%w: %w", domain.ErrGenerationFailure, context.Canceled)
		case errors.Is(err, context.DeadlineExceeded) || gctx.Err() != nil:
			return "", fmt.Errorf("%w: %v", domain.ErrProviderTimeout, err)
		default:
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
		}
	}

	reply = stripRole(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: model returned an empty answer", domain.ErrGenerationFailure)
	}
	return reply, nil
}

// buildMessages lays out the prompt: the fixed instruction, then one user message holding
// the conversation, the excerpts in relevance order, and the question.
func buildMessages(history []domain.Turn, sources []domain.ScoredChunk, question string) []llm.Message {
	var b strings.Builder

	b.WriteString("Conversation so far:\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	b.WriteString("\nDocument excerpts:\n")
	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Text
	}
	b.WriteString(strings.Join(texts, "\n"))

	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// stripRole removes a leading "assistant:" label that some models echo back.
func stripRole(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(rolePrefix) && strings.EqualFold(s[:len(rolePrefix)], rolePrefix) {
		s = strings.TrimSpace(s[len(rolePrefix):])
	}
	return s
}
