package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocello/vocello/internal/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocello.yaml")
	writeConfig(t, path, sampleYAML)

	var (
		mu      sync.Mutex
		changes int
		lastNew *config.Config
	)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		mu.Lock()
		changes++
		lastNew = new
		mu.Unlock()
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Speech.VoiceID; got != "aria" {
		t.Fatalf("initial voice = %q, want aria", got)
	}

	writeConfig(t, path, strings.Replace(sampleYAML, "voice_id: aria", "voice_id: nova", 1))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := changes
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("change never observed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if lastNew.Speech.VoiceID != "nova" {
		t.Errorf("new voice = %q, want nova", lastNew.Speech.VoiceID)
	}
	if w.Current().Speech.VoiceID != "nova" {
		t.Errorf("Current voice = %q, want nova", w.Current().Speech.VoiceID)
	}
}

func TestWatcherKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocello.yaml")
	writeConfig(t, path, sampleYAML)

	var mu sync.Mutex
	changes := 0
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		mu.Lock()
		changes++
		mu.Unlock()
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "speech:\n  url: wss://x\n") // missing voice_id

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	n := changes
	mu.Unlock()
	if n != 0 {
		t.Errorf("invalid config triggered %d change callbacks, want 0", n)
	}
	if got := w.Current().Speech.VoiceID; got != "aria" {
		t.Errorf("Current voice = %q, want aria (old config retained)", got)
	}
}

func TestWatcherRejectsMissingFile(t *testing.T) {
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("NewWatcher accepted a missing file")
	}
}
