package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/llm"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// Request is one generation call.
type Request struct {
	BotName string
	// Persona is the system directive for the bot.
	Persona string
	Prompt  string
	Context []model.Turn
}

// Generator produces a reply for a request. Implementations must honour
// ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ProcessGenerator runs an external program per request.
//
// The program receives the prompt, the JSON-encoded bot name and the
// JSON-encoded context turns as its last three arguments, and the persona in
// the BOT_PERSONALITY environment variable. It must print a single JSON
// object, {"response": "..."} or {"error": "..."}, and exit 0.
type ProcessGenerator struct {
	Command string
	Args    []string
	Env     []string
	Log     *logger.Logger
}

type processOutput struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate implements Generator.
func (g *ProcessGenerator) Generate(ctx context.Context, req Request) (string, error) {
	botName, err := json.Marshal(req.BotName)
	if err != nil {
		return "", err
	}
	turns := req.Context
	if turns == nil {
		turns = []model.Turn{}
	}
	contextJSON, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}

	args := append(append([]string{}, g.Args...), req.Prompt, string(botName), string(contextJSON))
	cmd := exec.CommandContext(ctx, g.Command, args...)
	cmd.Env = append(append(os.Environ(), g.Env...), "BOT_PERSONALITY="+req.Persona)
	cmd.WaitDelay = time.Second

	// Output is accumulated until exit and parsed once.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if stderr.Len() > 0 && g.Log != nil {
		g.Log.Warn("bot process stderr",
			zap.String("bot", req.BotName),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
		)
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if runErr != nil {
		return "", fmt.Errorf("bot process failed: %w", runErr)
	}

	var out processOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return "", fmt.Errorf("malformed bot process output: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("bot process reported: %s", out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", errors.New("bot process returned an empty response")
	}
	return out.Response, nil
}

// LLMGenerator calls an LLM provider directly.
type LLMGenerator struct {
	Client      llm.Client
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]llm.ChatMessage, 0, len(req.Context)+1)
	for _, t := range req.Context {
		messages = append(messages, llm.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: req.Prompt})

	resp, err := g.Client.Complete(ctx, &llm.CompletionRequest{
		Model:       g.Model,
		System:      req.Persona,
		Messages:    messages,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", g.Client.Name(), err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("%s returned an empty completion", g.Client.Name())
	}
	return content, nil
}
