package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini-live", "openai-realtime"},
	"llm": {"gemini", "openai", "openai-native", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// apiKeyEnv maps provider names to the environment variable consulted when
// the entry has no api_key.
var apiKeyEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"gemini":          "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
	"openai":          "OPENAI_API_KEY",
	"openai-native":   "OPENAI_API_KEY",
	"anthropic":       "ANTHROPIC_API_KEY",
	"deepseek":        "DEEPSEEK_API_KEY",
	"mistral":         "MISTRAL_API_KEY",
	"groq":            "GROQ_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills API keys from the
// environment, applies defaults and validates the result. An empty document
// yields the default configuration, which fails validation because no
// provider is configured.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty api_key fields from the provider's well-known
// environment variable (e.g. GEMINI_API_KEY for gemini-live).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" || e.Name == "" {
			return
		}
		env, ok := apiKeyEnv[e.Name]
		if !ok {
			return
		}
		if v, ok := lookup(env); ok {
			e.APIKey = v
		}
	}
	fill(&cfg.Providers.S2S)
	fill(&cfg.Providers.LLM)
	for i := range cfg.Providers.S2SFallbacks {
		fill(&cfg.Providers.S2SFallbacks[i])
	}
	for i := range cfg.Providers.LLMFallbacks {
		fill(&cfg.Providers.LLMFallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	if p.S2S.Name == "" && p.LLM.Name == "" {
		errs = append(errs, errors.New("providers: at least one of providers.s2s or providers.llm must be configured"))
	}
	if p.S2S.Name == "" {
		if len(p.S2SFallbacks) > 0 {
			errs = append(errs, errors.New("providers.s2s_fallbacks requires providers.s2s"))
		} else if p.LLM.Name != "" {
			slog.Warn("providers.s2s is not configured; the voice endpoint is disabled")
		}
	}
	if p.LLM.Name == "" {
		if len(p.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else if p.S2S.Name != "" {
			slog.Warn("providers.llm is not configured; the chat endpoint is disabled")
		}
	}
	validateProviderName("s2s", p.S2S.Name)
	validateProviderName("llm", p.LLM.Name)
	for i, e := range p.S2SFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.s2s_fallbacks[%d].name is required", i))
		}
		validateProviderName("s2s", e.Name)
	}
	for i, e := range p.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}

	// Voice
	v := cfg.Voice
	if v.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.capture_sample_rate %d must not be negative", v.CaptureSampleRate))
	}
	if v.PlaybackSampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.playback_sample_rate %d must not be negative", v.PlaybackSampleRate))
	}
	if v.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("voice.block_size %d must not be negative", v.BlockSize))
	}
	if v.ActivityThreshold < 0 || v.ActivityThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice.activity_threshold %.3f is out of range [0, 1]", v.ActivityThreshold))
	}
	if v.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.connect_timeout %s must not be negative", v.ConnectTimeout))
	}

	// Chat
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens %d must not be negative", cfg.Chat.MaxTokens))
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Info("memory.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
