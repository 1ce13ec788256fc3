package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/failcast/internal/model"
)

func testPrediction(p float64) model.Prediction {
	return model.Prediction{
		WillFail:    p > 0.5,
		Probability: p,
		Reason:      model.NoChangeReason,
		LastSpike:   model.NoSpike(),
		Timestamp:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriteProducesValidNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	out, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := out.Write(context.Background(), testPrediction(0.9)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	out.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}
	for i, line := range lines {
		var p model.Prediction
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			t.Errorf("line %d: invalid JSON: %v", i, err)
		}
		if !p.WillFail || p.Probability != 0.9 {
			t.Errorf("line %d: got will_fail=%v probability=%v", i, p.WillFail, p.Probability)
		}
	}
}

func TestRotationTriggersAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	// Each JSON line is well over 100 bytes, so every write after the first rotates.
	out, err := New(path, WithMaxSize(200))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := out.Write(context.Background(), testPrediction(0.1)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	out.Close()

	if _, err := os.Stat(path + ".1"); os.IsNotExist(err) {
		t.Error("expected rotated file .1 to exist")
	}
	data, _ := os.ReadFile(path)
	if len(data) == 0 {
		t.Error("expected current file to contain the latest prediction")
	}
}

func TestRotationKeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	out, err := New(path, WithMaxSize(10), WithMaxBackups(2))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := out.Write(context.Background(), testPrediction(0.2)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	out.Close()

	for _, suffix := range []string{".1", ".2"} {
		if _, err := os.Stat(path + suffix); err != nil {
			t.Errorf("expected %s to exist: %v", suffix, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("expected .3 to be pruned")
	}
}

func TestCloseFlushesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	out, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out.Write(context.Background(), testPrediction(0.7))

	// Buffered: nothing on disk until Close.
	if data, _ := os.ReadFile(path); len(data) != 0 {
		t.Fatalf("expected empty file before Close, got %d bytes", len(data))
	}
	out.Close()
	if data, _ := os.ReadFile(path); len(data) == 0 {
		t.Fatal("expected data after Close")
	}
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	for i := 0; i < 2; i++ {
		out, err := New(path)
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		out.Write(context.Background(), testPrediction(0.3))
		out.Close()
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("expected 2 lines across reopen, got %d", n)
	}
}

func TestConcurrentWritesSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	out, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := out.Write(context.Background(), testPrediction(float64(i)/10)); err != nil {
					t.Error(fmt.Errorf("goroutine %d: %w", i, err))
				}
			}
		}(i)
	}
	wg.Wait()
	out.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("line %d is not valid JSON", i)
		}
	}
}
