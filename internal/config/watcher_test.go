package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/auradesk/aura/internal/config"
)

const deskYAML = `
server:
  log_level: info
providers:
  s2s:
    name: gemini-live
    api_key: test-key
voice:
  voice: Kore
`

const (
	pollInterval = 20 * time.Millisecond
	// quietPeriod spans several polls; no callback may arrive within it.
	quietPeriod = 250 * time.Millisecond
)

type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watchFile writes content to a temp file and watches it. Every callback
// invocation is delivered on the returned channel.
func watchFile(t *testing.T, content string) (string, *config.Watcher, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, path, content)

	changes := make(chan change, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		changes <- change{old, new, diff}
	}, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func expectChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no reload callback")
		return change{}
	}
}

func expectQuiet(t *testing.T, changes <-chan change) {
	t.Helper()
	select {
	case c := <-changes:
		t.Fatalf("unexpected reload callback: %+v", c.diff)
	case <-time.After(quietPeriod):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := watchFile(t, deskYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Voice.Voice != "Kore" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() = voice %q level %q, want Kore/info", cfg.Voice.Voice, cfg.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("NewWatcher succeeded on a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "server:\n  log_level: bananas\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher succeeded on an invalid file")
	}
}

func TestWatcher_PersonaEdit(t *testing.T) {
	t.Parallel()
	path, w, changes := watchFile(t, deskYAML)

	writeFile(t, path, `
server:
  log_level: debug
providers:
  s2s:
    name: gemini-live
    api_key: test-key
voice:
  voice: Puck
  instructions: Greet callers in Hindi.
`)
	c := expectChange(t, changes)

	if c.old.Voice.Voice != "Kore" || c.new.Voice.Voice != "Puck" {
		t.Errorf("voice %q -> %q, want Kore -> Puck", c.old.Voice.Voice, c.new.Voice.Voice)
	}
	if !c.diff.VoiceChanged || !c.diff.LogLevelChanged || c.diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want voice and log level (debug) changes", c.diff)
	}
	if c.diff.ChatChanged || len(c.diff.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want no chat or restart changes", c.diff)
	}
	if got := w.Current().VoiceSessionConfig().Voice; got != "Puck" {
		t.Errorf("Current voice = %q, want Puck", got)
	}
}

func TestWatcher_RestartOnlyEditIsNotDelivered(t *testing.T) {
	t.Parallel()
	path, w, changes := watchFile(t, deskYAML)

	writeFile(t, path, `
server:
  log_level: info
  listen_addr: ":9090"
providers:
  s2s:
    name: gemini-live
    api_key: test-key
voice:
  voice: Kore
`)
	expectQuiet(t, changes)

	// The file is still tracked so that later diffs are relative to it.
	if got := w.Current().Server.ListenAddr; got != ":9090" {
		t.Errorf("Current listen_addr = %q, want :9090", got)
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()
	path, w, changes := watchFile(t, deskYAML)

	writeFile(t, path, "server:\n  log_level: bananas\nproviders:\n  s2s:\n    name: gemini-live\n")
	expectQuiet(t, changes)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log_level = %q after invalid edit, want info", got)
	}

	// A fixed file is picked up again.
	writeFile(t, path, deskYAML+"chat:\n  system_prompt: Keep it short.\n")
	c := expectChange(t, changes)
	if !c.diff.ChatChanged {
		t.Errorf("diff = %+v, want a chat change", c.diff)
	}
}

func TestWatcher_UnchangedContent(t *testing.T) {
	t.Parallel()
	path, _, changes := watchFile(t, deskYAML)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	writeFile(t, path, "# front desk\n"+deskYAML)
	expectQuiet(t, changes)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path, w, changes := watchFile(t, deskYAML)

	w.Stop()
	w.Stop()

	writeFile(t, path, deskYAML+"chat:\n  max_tokens: 64\n")
	expectQuiet(t, changes)
}
