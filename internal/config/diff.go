package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// listener changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when the persona of new voice sessions changed
	// (voice, instructions, transcription). Running sessions keep theirs.
	VoiceChanged bool

	// ChatChanged is true when the chat system prompt or token cap changed.
	ChatChanged bool

	// RestartRequired lists sections that changed but cannot be applied
	// without a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.ChatChanged && len(d.RestartRequired) == 0
}

// HotReloadable reports whether d changes anything a running server can
// adopt without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.ChatChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice.Voice != new.Voice.Voice ||
		old.Voice.Instructions != new.Voice.Instructions ||
		old.Voice.DisableTranscription != new.Voice.DisableTranscription {
		d.VoiceChanged = true
	}

	if old.Chat != new.Chat {
		d.ChatChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Voice.CaptureSampleRate != new.Voice.CaptureSampleRate ||
		old.Voice.PlaybackSampleRate != new.Voice.PlaybackSampleRate ||
		old.Voice.BlockSize != new.Voice.BlockSize ||
		old.Voice.ActivityThreshold != new.Voice.ActivityThreshold ||
		old.Voice.ConnectTimeout != new.Voice.ConnectTimeout {
		d.RestartRequired = append(d.RestartRequired, "voice.audio")
	}

	return d
}

// providersEqual compares provider selections by name, model, endpoint and key.
// Options maps are not compared.
func providersEqual(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.Model == y.Model && x.BaseURL == y.BaseURL && x.APIKey == y.APIKey
	}
	sameList := func(x, y []ProviderEntry) bool {
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !same(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return same(a.S2S, b.S2S) && same(a.LLM, b.LLM) &&
		sameList(a.S2SFallbacks, b.S2SFallbacks) && sameList(a.LLMFallbacks, b.LLMFallbacks)
}
