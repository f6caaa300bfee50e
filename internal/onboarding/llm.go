package onboarding

import (
	"context"
	"strings"
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant turns that requested tools
	ToolCallID string     // tool results
	ToolName   string
	Result     *ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// CompletionRequest is one model call.
type CompletionRequest struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Completion is the model's answer: text, tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// LLM is a chat model with function calling.
type LLM interface {
	Provider() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// FallbackLLM answers from a few canned replies. It is used when no model
// API key is configured and never calls tools.
type FallbackLLM struct{}

func (FallbackLLM) Provider() string { return "fallback" }

func (FallbackLLM) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	return &Completion{Content: FallbackReply(last)}, nil
}

// FallbackReply picks a canned reply by keyword.
func FallbackReply(message string) string {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, "hello", "hi", "hey"):
		return "Hi there! I'm Sam, your onboarding specialist. I'm here to help you get set up with Daily Event Insurance. What's your business name?"
	case containsAny(m, "gym", "fitness", "climbing"):
		return "Great! We work with many fitness facilities like yours. Our partners typically earn $200-500+ per month by offering day insurance to their members. Would you like me to calculate your potential earnings?"
	case strings.Contains(m, "how") && strings.Contains(m, "work"):
		return "It's simple! You offer $5 day insurance to your customers, and you earn 50% commission on every sale. There are no costs to you - we handle all the admin and claims. Would you like to get started?"
	}
	return "Thanks for that information! I'm gathering what I need to get you set up. Could you tell me a bit more about your business?"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
