package config

import "testing"

func TestDetectProvider(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"o1-mini", ProviderOpenAI},
		{"o3", ProviderOpenAI},
		{"llama3.2", ProviderOllama},
		{"qwen2.5-coder", ProviderOllama},
		{"deepseek-r1", ProviderOllama},
		{"codellama", ProviderOllama},
		{"some-unknown-model", ProviderOpenAI},
	} {
		if got := DetectProvider(tc.model); got != tc.want {
			t.Fatalf("DetectProvider(%q)=%q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("NAV_MODEL", "env-gpt")
	t.Setenv("NAV_PROVIDER", "")
	t.Setenv("NAV_BASE_URL", "")
	t.Setenv("NAV_API_KEY", "unified-key")
	t.Setenv("NAV_CONTEXT_WINDOW", "200000")
	t.Setenv("NAV_HANDOVER_THRESHOLD", "0.5")
	t.Setenv("HOME", t.TempDir()) // no config file

	cfg, err := Resolve(Flags{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Model != "env-gpt" {
		t.Fatalf("model=%q", cfg.Model)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Fatalf("provider=%q", cfg.Provider)
	}
	if cfg.APIKey != "unified-key" {
		t.Fatalf("api key=%q", cfg.APIKey)
	}
	if cfg.ContextWindow != 200000 || cfg.HandoverThreshold != 0.5 {
		t.Fatalf("window=%d threshold=%v", cfg.ContextWindow, cfg.HandoverThreshold)
	}

	// A flag beats the environment.
	cfg, err = Resolve(Flags{Model: "claude-opus"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Model != "claude-opus" || cfg.Provider != ProviderAnthropic {
		t.Fatalf("model=%q provider=%q", cfg.Model, cfg.Provider)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NAV_HANDOVER_THRESHOLD", "1.5")
	if _, err := Resolve(Flags{}); err == nil {
		t.Fatal("bad threshold accepted")
	}
	t.Setenv("NAV_HANDOVER_THRESHOLD", "")
	t.Setenv("NAV_CONTEXT_WINDOW", "abc")
	if _, err := Resolve(Flags{}); err == nil {
		t.Fatal("bad context window accepted")
	}
	t.Setenv("NAV_CONTEXT_WINDOW", "")
	if _, err := Resolve(Flags{Provider: "mystery"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}
