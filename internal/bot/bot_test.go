package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/botchat/internal/llm"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// TestHelperProcess is not a real test. It stands in for the external bot
// program when re-executed by helperGenerator.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	prompt, botNameJSON, contextJSON := args[0], args[1], args[2]

	var botName string
	_ = json.Unmarshal([]byte(botNameJSON), &botName)
	var turns []model.Turn
	_ = json.Unmarshal([]byte(contextJSON), &turns)

	switch os.Getenv("HELPER_MODE") {
	case "ok":
		fmt.Fprintln(os.Stderr, "loading model")
		out, _ := json.Marshal(map[string]string{
			"response": fmt.Sprintf("%s|%s|%d|%s", botName, prompt, len(turns), os.Getenv("BOT_PERSONALITY")),
		})
		// Written in two chunks to exercise accumulation.
		os.Stdout.Write(out[:5])
		os.Stdout.Write(out[5:])
	case "exit":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(2)
	case "garbage":
		fmt.Print("{not json")
	case "error":
		fmt.Print(`{"error":"quota exceeded"}`)
	case "sleep":
		time.Sleep(10 * time.Second)
	}
}

func helperGenerator(mode string) *ProcessGenerator {
	return &ProcessGenerator{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		Log:     logger.NewNop(),
	}
}

type memStore struct {
	mu   sync.Mutex
	msgs []*model.Message
	err  error
}

func (m *memStore) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	msg.ID = fmt.Sprintf("m%d", len(m.msgs)+1)
	msg.CreatedAt = time.Now()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

var ross = &model.Bot{ID: "bot-ross", Username: "Ross", Personality: "friendly"}

func TestParseMention(t *testing.T) {
	t.Parallel()

	name, ok := ParseMention("hello @Ross tell me something")
	require.True(t, ok)
	assert.Equal(t, "Ross", name)

	name, ok = ParseMention("@QC_Carl and @Ross")
	require.True(t, ok)
	assert.Equal(t, "QC_Carl", name)

	_, ok = ParseMention("no mention here")
	assert.False(t, ok)
}

func TestStripMention(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello  tell me something", StripMention("hello @Ross tell me something", "Ross"))
	assert.Equal(t, "what's up", StripMention("@ross what's up", "Ross"))
	assert.Equal(t, "hi @Ross", StripMention("@Ross hi @Ross", "Ross"))
	assert.Equal(t, "plain", StripMention("  plain ", "Ross"))
}

func TestPersonaFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "friendly", Persona(ross))
	assert.Equal(t, "You are Zed, a helpful assistant.", Persona(&model.Bot{Username: "Zed"}))
}

func TestProcessGeneratorSuccess(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	inv := NewInvoker(helperGenerator("ok"), st, 10*time.Second, logger.NewNop())

	view, err := inv.Invoke(context.Background(), ross, "hello @Ross tell me something", "general",
		[]model.Turn{{Role: model.RoleUser, Content: "earlier"}})
	require.NoError(t, err)

	assert.Equal(t, "Ross|hello  tell me something|1|friendly", view.Content)
	assert.Equal(t, model.SenderBot, view.SenderType)
	assert.Equal(t, "bot-ross", view.SenderID)
	assert.Equal(t, "general", view.Room)
	assert.True(t, view.IsGlobal)
	assert.True(t, view.Sender.IsBot)
	assert.Equal(t, model.StatusOnline, view.Sender.Status)
	assert.Equal(t, 1, st.count())
}

func TestProcessGeneratorFailuresPersistNothing(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"exit", "garbage", "error"} {
		mode := mode
		t.Run(mode, func(t *testing.T) {
			t.Parallel()
			st := &memStore{}
			inv := NewInvoker(helperGenerator(mode), st, 10*time.Second, logger.NewNop())

			view, err := inv.Invoke(context.Background(), ross, "@Ross hi", "general", nil)
			require.Error(t, err)
			assert.Nil(t, view)

			var invErr *InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, "Ross", invErr.Bot)
			assert.False(t, invErr.Timeout)
			assert.Zero(t, st.count())
		})
	}
}

func TestProcessGeneratorTimeout(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	inv := NewInvoker(helperGenerator("sleep"), st, 200*time.Millisecond, logger.NewNop())

	start := time.Now()
	_, err := inv.Invoke(context.Background(), ross, "@Ross hi", "general", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.True(t, invErr.Timeout)
	assert.Zero(t, st.count())
}

func TestInvokePersistFailure(t *testing.T) {
	t.Parallel()
	st := &memStore{err: errors.New("disk full")}
	inv := NewInvoker(GeneratorFunc(func(context.Context, Request) (string, error) { return "hi", nil }), st, time.Second, logger.NewNop())

	_, err := inv.Invoke(context.Background(), ross, "@Ross hi", "general", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.ErrorContains(t, err, "disk full")
}

func TestConcurrentInvocationsOfSameBot(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	release := make(chan struct{})
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		<-release
		return "reply to " + req.Prompt, nil
	})
	inv := NewInvoker(gen, st, 5*time.Second, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := inv.Invoke(context.Background(), ross, fmt.Sprintf("@Ross q%d", i), "general", nil)
			assert.NoError(t, err)
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 3, st.count())
}

type fakeLLM struct {
	req  *llm.CompletionRequest
	resp string
	err  error
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.resp}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func TestLLMGenerator(t *testing.T) {
	t.Parallel()
	client := &fakeLLM{resp: "  sure thing  "}
	gen := &LLMGenerator{Client: client, Model: "m"}

	out, err := gen.Generate(context.Background(), Request{
		Persona: "be kind",
		Prompt:  "help",
		Context: []model.Turn{{Role: model.RoleAssistant, Content: "before"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sure thing", out)
	assert.Equal(t, "be kind", client.req.System)
	require.Len(t, client.req.Messages, 2)
	assert.Equal(t, llm.RoleAssistant, client.req.Messages[0].Role)
	assert.Equal(t, "help", client.req.Messages[1].Content)

	client.resp = "   "
	_, err = gen.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestSummarizer(t *testing.T) {
	t.Parallel()
	var got Request
	s := NewSummarizer(GeneratorFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "they said hi", nil
	}), time.Second)

	_, err := s.Summarize(context.Background(), "u1", "general", nil)
	assert.Error(t, err)

	out, err := s.Summarize(context.Background(), "u1", "general", []model.Turn{{Role: model.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "they said hi", out)
	assert.Len(t, got.Context, 1)
	assert.True(t, strings.HasPrefix(got.Prompt, "Summarize"))
}
