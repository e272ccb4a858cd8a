package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/extract"
	"github.com/bull/pdfchat/internal/index"
	"github.com/bull/pdfchat/internal/llm"
	"github.com/bull/pdfchat/internal/memory"
	"github.com/bull/pdfchat/internal/storage"
	"github.com/bull/pdfchat/internal/testutil/fakes"
	"github.com/bull/pdfchat/internal/testutil/pdffixture"
)

const dim = 64

type stubRetriever struct {
	ready    bool
	readyErr error
	chunks   []domain.ScoredChunk
	queryErr error
	queries  []string
}

func (s *stubRetriever) Ready(context.Context, string) (bool, error) { return s.ready, s.readyErr }

func (s *stubRetriever) Query(_ context.Context, _, text string, _ int) ([]domain.ScoredChunk, error) {
	s.queries = append(s.queries, text)
	return s.chunks, s.queryErr
}

func newMemory(t *testing.T) *memory.Local {
	t.Helper()
	m, err := memory.NewLocal(memory.DefaultBudget)
	require.NoError(t, err)
	return m
}

func readyRetriever(texts ...string) *stubRetriever {
	r := &stubRetriever{ready: true}
	for i, text := range texts {
		r.chunks = append(r.chunks, domain.ScoredChunk{DocumentID: "doc", ChunkIndex: i, Text: text, Score: 1 - float64(i)/10})
	}
	return r
}

func history(t *testing.T, m memory.Store, namespace, session string) []domain.Turn {
	t.Helper()
	turns, err := m.History(context.Background(), namespace, session)
	require.NoError(t, err)
	return turns
}

func TestAnswer_GroundedInIngestedPDF(t *testing.T) {
	ctx := context.Background()

	text, err := extract.New().Extract(ctx, pdffixture.Build("Project overview", "The launch date is March 5."), domain.MediaTypePDF)
	require.NoError(t, err)
	ch, err := chunker.New(chunker.Options{Size: 200, Overlap: 20})
	require.NoError(t, err)

	store, err := storage.NewMemoryStore(dim)
	require.NoError(t, err)
	idx := index.New(fakes.NewEmbedder(dim), store, index.Options{})
	_, err = idx.Store(ctx, "", "plan", ch.Split("plan", text))
	require.NoError(t, err)

	mem := newMemory(t)
	c := New(idx, mem, fakes.NewEchoLLM(), Options{})

	answer, err := c.Answer(ctx, Question{SessionID: "s1", Text: "What is the launch date?"})
	require.NoError(t, err)
	assert.Contains(t, answer, "March 5")

	turns := history(t, mem, "", "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "What is the launch date?", turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, answer, turns[1].Content)
}

func TestAnswer_IndexNotReady(t *testing.T) {
	store, err := storage.NewMemoryStore(dim)
	require.NoError(t, err)
	emb := fakes.NewEmbedder(dim)
	model := fakes.NewEchoLLM()
	mem := newMemory(t)
	c := New(index.New(emb, store, index.Options{}), mem, model, Options{})

	_, err = c.Answer(context.Background(), Question{SessionID: "s", Text: "anything?"})
	assert.ErrorIs(t, err, domain.ErrIndexNotReady)
	assert.Equal(t, domain.KindIndexNotReady, domain.KindOf(err))
	assert.Zero(t, emb.Calls())
	assert.Empty(t, model.Requests())
	assert.Empty(t, history(t, mem, "", "s"))
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	c := New(readyRetriever("x"), newMemory(t), fakes.NewEchoLLM(), Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := c.Answer(context.Background(), Question{Text: q})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
}

func TestAnswer_PromptLayout(t *testing.T) {
	mem := newMemory(t)
	require.NoError(t, mem.Append(context.Background(), "", "s",
		domain.Turn{Role: domain.RoleUser, Content: "earlier question"},
		domain.Turn{Role: domain.RoleAssistant, Content: "earlier answer"},
	))
	model := fakes.NewEchoLLM()
	c := New(readyRetriever("most relevant", "less relevant"), mem, model, Options{})

	_, err := c.Answer(context.Background(), Question{SessionID: "s", Text: "new question"})
	require.NoError(t, err)

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0], 2)
	assert.Equal(t, llm.RoleSystem, reqs[0][0].Role)
	assert.Equal(t, SystemPrompt, reqs[0][0].Content)
	assert.Equal(t, llm.RoleUser, reqs[0][1].Role)

	prompt := reqs[0][1].Content
	assert.Contains(t, prompt, "user: earlier question\nassistant: earlier answer")
	assert.Contains(t, prompt, "most relevant\nless relevant")
	assert.True(t, strings.HasSuffix(prompt, "Question: new question"))
	assert.Less(t, strings.Index(prompt, "earlier answer"), strings.Index(prompt, "most relevant"))
}

func TestAnswer_UsesConfiguredTopK(t *testing.T) {
	var gotK int
	r := &topKRetriever{k: &gotK}
	c := New(r, newMemory(t), fakes.NewEchoLLM(), Options{TopK: 3})

	_, err := c.Answer(context.Background(), Question{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, 3, gotK)

	c = New(r, newMemory(t), fakes.NewEchoLLM(), Options{})
	_, err = c.Answer(context.Background(), Question{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, gotK)
}

type topKRetriever struct{ k *int }

func (topKRetriever) Ready(context.Context, string) (bool, error) { return true, nil }

func (r topKRetriever) Query(_ context.Context, _, _ string, topK int) ([]domain.ScoredChunk, error) {
	*r.k = topK
	return []domain.ScoredChunk{{Text: "chunk"}}, nil
}

func TestAnswer_GenerationFailureWritesNothing(t *testing.T) {
	mem := newMemory(t)
	model := fakes.NewEchoLLM()
	model.Fail(errors.New("model overloaded"))
	c := New(readyRetriever("context"), mem, model, Options{})

	_, err := c.Answer(context.Background(), Question{SessionID: "s", Text: "q"})
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	assert.Equal(t, domain.KindGenerationFailure, domain.KindOf(err))
	assert.Empty(t, history(t, mem, "", "s"))
}

func TestAnswer_Timeout(t *testing.T) {
	mem := newMemory(t)
	model := fakes.NewEchoLLM()
	model.Hang()
	c := New(readyRetriever("context"), mem, model, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.Answer(context.Background(), Question{SessionID: "s", Text: "q"})
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.Equal(t, domain.KindProviderTimeout, domain.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, history(t, mem, "", "s"))
}

func TestAnswer_CallerCancellation(t *testing.T) {
	mem := newMemory(t)
	model := fakes.NewEchoLLM()
	model.Slow(5 * time.Second)
	c := New(readyRetriever("context"), mem, model, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Answer(ctx, Question{SessionID: "s", Text: "q"})
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history(t, mem, "", "s"))
}

func TestAnswer_StripsRoleLabel(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"assistant: The answer.", "The answer."},
		{"  Assistant:The answer.  ", "The answer."},
		{"ASSISTANT:   spaced", "spaced"},
		{"The assistant: said", "The assistant: said"},
		{"\n plain \n", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			model := fakes.NewEchoLLM()
			reply := tt.reply
			model.Reply(func(context.Context, []llm.Message) (string, error) { return reply, nil })
			c := New(readyRetriever("context"), newMemory(t), model, Options{})

			got, err := c.Answer(context.Background(), Question{Text: "q"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnswer_EmptyReplyIsFailure(t *testing.T) {
	model := fakes.NewEchoLLM()
	model.Reply(func(context.Context, []llm.Message) (string, error) { return "assistant:  ", nil })
	c := New(readyRetriever("context"), newMemory(t), model, Options{})

	_, err := c.Answer(context.Background(), Question{Text: "q"})
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
}

func TestAnswer_RetrievalErrorsPassThrough(t *testing.T) {
	r := readyRetriever()
	r.queryErr = domain.ErrIndexUnavailable
	model := fakes.NewEchoLLM()
	c := New(r, newMemory(t), model, Options{})

	_, err := c.Answer(context.Background(), Question{Text: "q"})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Empty(t, model.Requests())

	r = &stubRetriever{readyErr: domain.ErrIndexUnavailable}
	c = New(r, newMemory(t), model, Options{})
	_, err = c.Answer(context.Background(), Question{Text: "q"})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestAnswerWithSources(t *testing.T) {
	r := readyRetriever("first", "second")
	c := New(r, newMemory(t), fakes.NewEchoLLM(), Options{})

	a, err := c.AnswerWithSources(context.Background(), Question{Text: "  what?  "})
	require.NoError(t, err)
	assert.Equal(t, r.chunks, a.Sources)
	assert.Equal(t, []string{"what?"}, r.queries, "question is trimmed before retrieval")
}

func TestAnswer_SessionsAreSeparate(t *testing.T) {
	mem := newMemory(t)
	model := fakes.NewEchoLLM()
	c := New(readyRetriever("context"), mem, model, Options{})
	ctx := context.Background()

	_, err := c.Answer(ctx, Question{SessionID: "alice", Text: "alice asks"})
	require.NoError(t, err)
	_, err = c.Answer(ctx, Question{SessionID: "bob", Text: "bob asks"})
	require.NoError(t, err)

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[1][1].Content, "alice asks")
	assert.Len(t, history(t, mem, "", "alice"), 2)
	assert.Len(t, history(t, mem, "", "bob"), 2)
}

func TestAnswer_DefaultSession(t *testing.T) {
	mem := newMemory(t)
	c := New(readyRetriever("context"), mem, fakes.NewEchoLLM(), Options{})

	_, err := c.Answer(context.Background(), Question{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, history(t, mem, "", DefaultSession), 2)
}

func TestAnswer_NamespacesDoNotShareSessions(t *testing.T) {
	tests := []struct {
		name    string
		session string
	}{
		{"default session", ""},
		{"same explicit session", "s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMemory(t)
			model := fakes.NewEchoLLM()
			c := New(readyRetriever("context"), mem, model, Options{})
			ctx := context.Background()

			_, err := c.Answer(ctx, Question{Namespace: "tenant-a", SessionID: tt.session, Text: "secret salary of alice"})
			require.NoError(t, err)
			_, err = c.Answer(ctx, Question{Namespace: "tenant-b", SessionID: tt.session, Text: "hello"})
			require.NoError(t, err)

			reqs := model.Requests()
			require.Len(t, reqs, 2)
			assert.NotContains(t, reqs[1][1].Content, "secret salary")

			session := tt.session
			if session == "" {
				session = DefaultSession
			}
			assert.Len(t, history(t, mem, "tenant-a", session), 2)
			b := history(t, mem, "tenant-b", session)
			require.Len(t, b, 2)
			assert.Equal(t, "hello", b[0].Content)
		})
	}
}
