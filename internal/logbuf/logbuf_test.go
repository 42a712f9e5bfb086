package logbuf

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestBuffer_Wraparound(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Write(Entry{Time: time.Now(), Level: "INFO", Message: string(rune('a' + i))})
	}

	got := b.Query(slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	// Oldest two were evicted; c, d, e remain in order.
	if got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestBuffer_LevelFilterAndLimit(t *testing.T) {
	b := New(10)
	b.Write(Entry{Level: "DEBUG", Message: "noise"})
	b.Write(Entry{Level: "INFO", Message: "one"})
	b.Write(Entry{Level: "ERROR", Message: "two"})
	b.Write(Entry{Level: "WARN", Message: "three"})

	got := b.Query(slog.LevelInfo, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("expected most recent matches, got %v", got)
	}
}

func TestHandler_CapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	var out bytes.Buffer
	inner := slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, buf))

	logger.Info("quiet", "k", "v")
	logger.Error("loud", "error", errors.New("boom"))

	entries := buf.Query(slog.LevelDebug, 0)
	if len(entries) != 2 {
		t.Fatalf("expected buffer to capture both records, got %d", len(entries))
	}
	if entries[0].Attrs["k"] != "v" {
		t.Errorf("missing attr: %v", entries[0].Attrs)
	}
	if entries[1].Attrs["error"] != "boom" {
		t.Errorf("error attr not stringified: %v", entries[1].Attrs)
	}

	// The inner handler only saw the error record.
	if !bytes.Contains(out.Bytes(), []byte("loud")) {
		t.Error("inner handler missed error record")
	}
	if bytes.Contains(out.Bytes(), []byte("quiet")) {
		t.Error("inner handler should filter info records")
	}
}

func TestHandler_WithAttrs(t *testing.T) {
	buf := New(10)
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	logger := slog.New(NewHandler(inner, buf)).With("component", "driver")

	logger.Info("hello")

	entries := buf.Query(slog.LevelDebug, 0)
	if len(entries) != 1 || entries[0].Attrs["component"] != "driver" {
		t.Fatalf("pre-bound attrs not captured: %v", entries)
	}
}
