package llm

import (
	"context"
	"testing"

	"github.com/scottonanski/persistent-mind-model/internal/config"
)

func TestNewClientOllama(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", Model: "llama3.2"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Ollama); !ok {
		t.Errorf("expected *Ollama, got %T", client)
	}
}

func TestNewClientAnthropic(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key", Model: "claude-haiku-4-5-20251001"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Anthropic); !ok {
		t.Errorf("expected *Anthropic, got %T", client)
	}
}

func TestNewClientAnthropicMissingKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientUnknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "gpt"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock("a reflection")
	out, err := m.Generate(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "a reflection" {
		t.Errorf("response = %q, want %q", out, "a reflection")
	}
	if len(m.Calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(m.Calls))
	}
	if m.Calls[0].SystemPrompt != "system" || m.Calls[0].UserPrompt != "user" {
		t.Errorf("recorded call = %+v", m.Calls[0])
	}
}
