// Package fakes provides deterministic stand-ins for the embedding and language model
// providers.
package fakes

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/bull/pdfchat/internal/llm"
)

// Embedder hashes words into a bag-of-words vector, so texts sharing words are similar.
type Embedder struct {
	Dim int

	mu    sync.Mutex
	err   error
	block bool
	calls atomic.Int32
}

// NewEmbedder returns an Embedder producing dim-sized vectors.
func NewEmbedder(dim int) *Embedder { return &Embedder{Dim: dim} }

// Fail makes subsequent calls return err. A nil err restores normal behaviour.
func (e *Embedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Block makes subsequent calls wait for their context to end.
func (e *Embedder) Block(block bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.block = block
}

// Calls returns how many times Embed was called.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

// Dimension implements embedding.Embedder.
func (e *Embedder) Dimension() int { return e.Dim }

// Model implements embedding.Embedder.
func (e *Embedder) Model() string { return "fake-bag-of-words" }

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	err, block := e.err, e.block
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.Dim)]++
	}
	// Keep every vector non-zero.
	v[len(v)-1] += 0.01

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// LLM is a scripted language model. With no Reply set it echoes the last user message,
// which lets tests assert on the prompt that reached the model.
type LLM struct {
	mu       sync.Mutex
	reply    func(ctx context.Context, messages []llm.Message) (string, error)
	requests [][]llm.Message
}

// NewEchoLLM returns an LLM that answers with the last user message.
func NewEchoLLM() *LLM { return &LLM{} }

// Reply sets the function producing answers.
func (l *LLM) Reply(fn func(ctx context.Context, messages []llm.Message) (string, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reply = fn
}

// Fail makes every call return err.
func (l *LLM) Fail(err error) {
	l.Reply(func(context.Context, []llm.Message) (string, error) { return "", err })
}

// Hang makes every call wait for its context to end.
func (l *LLM) Hang() {
	l.Reply(func(ctx context.Context, _ []llm.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

// Slow delays every echoed answer by d unless the context ends first.
func (l *LLM) Slow(d time.Duration) {
	l.Reply(func(ctx context.Context, messages []llm.Message) (string, error) {
		select {
		case <-time.After(d):
			return echo(messages), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

// Requests returns every message list received so far.
func (l *LLM) Requests() [][]llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]llm.Message(nil), l.requests...)
}

// Model implements llm.Provider.
func (l *LLM) Model() string { return "fake-llm" }

// Complete implements llm.Provider.
func (l *LLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, append([]llm.Message(nil), messages...))
	reply := l.reply
	l.mu.Unlock()

	if reply != nil {
		return reply(ctx, messages)
	}
	return echo(messages), nil
}

func echo(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
