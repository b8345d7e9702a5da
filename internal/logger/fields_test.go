package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFields(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  run_id  ", Value: "  4f1c  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}

	if fields[0].Key != "run_id" || fields[0].String != "4f1c" {
		t.Fatalf("unexpected field: %+v", fields[0])
	}

	empty := StringFields()
	if len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithFields(logger, zap.String("foo", "bar"))
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx["foo"] != "bar" {
		t.Fatalf("expected field to be bar, got %q", ctx["foo"])
	}

	enriched = WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	// Ensure logging with the fallback logger does not panic.
	enriched.Info("another log")
}

func TestCommonFields(t *testing.T) {
	fields := CommonFields("  anthropic  ", "model-v1")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}

	if fields[0].Key != FieldProvider || fields[0].String != "anthropic" {
		t.Fatalf("unexpected provider field: %+v", fields[0])
	}

	if fields[1].Key != FieldModel || fields[1].String != "model-v1" {
		t.Fatalf("unexpected model field: %+v", fields[1])
	}

	empty := CommonFields("", "")
	if len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected no-op logger for nil input")
	}

	core, _ := observer.New(zapcore.InfoLevel)
	l := zap.New(core)
	if OrNop(l) != l {
		t.Fatalf("expected the same logger to be returned")
	}
}

func TestNewLevels(t *testing.T) {
	l, err := New(true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug must be disabled without the debug flag")
	}

	l, err = New(false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug must be enabled with the debug flag")
	}
}

func TestWithCommonFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithCommonFields(logger, "groq", "llama-3.3-70b-versatile")
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx[FieldProvider] != "groq" {
		t.Fatalf("expected provider field to be groq, got %q", ctx[FieldProvider])
	}

	if ctx[FieldModel] != "llama-3.3-70b-versatile" {
		t.Fatalf("expected model field to be llama-3.3-70b-versatile, got %q", ctx[FieldModel])
	}

	enriched = WithCommonFields(nil, "groq", "")
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	// Ensure logging with the fallback logger does not panic.
	enriched.Info("another log")
}

func TestWithRun(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithRun(zap.New(core), "run-1", "acme/mesh").Info("scored")
	WithRun(zap.New(core), "run-2", "").Info("scored")

	entries := observed.All()
	first := entries[0].ContextMap()
	if first[FieldRunID] != "run-1" || first[FieldRepo] != "acme/mesh" {
		t.Fatalf("unexpected fields: %v", first)
	}
	second := entries[1].ContextMap()
	if _, ok := second[FieldRepo]; ok || second[FieldRunID] != "run-2" {
		t.Fatalf("empty repo must be omitted: %v", second)
	}
}

func TestFundingFields(t *testing.T) {
	fields := FundingFields("42", " Net Fund ")
	if len(fields) != 2 || fields[0].Key != FieldFundingID || fields[1].String != "Net Fund" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if len(FundingFields("", "")) != 0 {
		t.Fatalf("expected no fields for empty values")
	}
}
