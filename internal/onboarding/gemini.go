package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/metrics"
)

// DefaultModel is used when the configuration names none.
const DefaultModel = "gemini-2.5-flash"

// GeminiClient implements LLM on the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	attempts    uint
	log         *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, log *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("onboarding: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("onboarding: create gemini client: %w", err)
	}
	g := &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		attempts:    3,
		log:         logging.OrNop(log).Named("gemini"),
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	return g, nil
}

// NewLLM returns a Gemini client when an API key is configured, and the
// canned fallback otherwise.
func NewLLM(ctx context.Context, cfg config.LLMConfig, log *zap.Logger) (LLM, error) {
	if cfg.APIKey == "" {
		logging.OrNop(log).Warn("no LLM api key configured, onboarding agent uses canned replies")
		return FallbackLLM{}, nil
	}
	return NewGeminiClient(ctx, cfg, log)
}

func (g *GeminiClient) Provider() string { return "gemini" }

func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	defer metrics.ObserveLLM(g.Provider(), time.Now())

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var resp *genai.GenerateContentResponse
	err = retry.Do(
		func() error {
			var err error
			resp, err = g.client.Models.GenerateContent(ctx, g.model, contents, gc)
			if err != nil && !retryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.log.Warn("gemini request failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("onboarding: gemini generate: %w", err)
	}

	out := &Completion{Content: resp.Text()}
	for i, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fc.Name + "-" + strconv.Itoa(i)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: fc.Name, Args: fc.Args})
	}
	return out, nil
}

// retryable reports whether a Gemini error is worth another attempt.
func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

// toContents maps the conversation to Gemini contents. Consecutive tool
// results are sent together in one user turn.
func toContents(msgs []Message) ([]*genai.Content, error) {
	var out []*genai.Content
	var pending []*genai.Part
	flush := func() {
		if len(pending) > 0 {
			out = append(out, genai.NewContentFromParts(pending, genai.RoleUser))
			pending = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			resp, err := toolResponse(m.Result)
			if err != nil {
				return nil, err
			}
			pending = append(pending, genai.NewPartFromFunctionResponse(m.ToolName, resp))
		case "assistant":
			flush()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, c := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(c.Name, c.Args))
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		default:
			flush()
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()
	return out, nil
}

// toolResponse turns a tool result into the map Gemini expects.
func toolResponse(r *ToolResult) (map[string]any, error) {
	if r == nil {
		return map[string]any{"success": false}, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("onboarding: encode tool result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
