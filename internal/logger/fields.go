package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared by every package.
const (
	FieldProvider    = "ai_provider"
	FieldModel       = "ai_model"
	FieldRunID       = "run_id"
	FieldRepo        = "repo"
	FieldFundingID   = "funding_id"
	FieldFundingName = "funding_name"
)

type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields. Keys and values are
// trimmed; pairs with an empty side are dropped to keep entries compact.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to l, defaulting to a no-op logger when l is nil.
func WithFields(l *zap.Logger, fields ...zap.Field) *zap.Logger {
	l = OrNop(l)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// CommonFields describe the AI provider and model behind a log entry.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

func WithCommonFields(l *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(l, CommonFields(provider, model)...)
}

// WithRun tags every entry of one matching run.
func WithRun(l *zap.Logger, runID, repo string) *zap.Logger {
	return WithFields(l, StringFields(
		StringField{Key: FieldRunID, Value: runID},
		StringField{Key: FieldRepo, Value: repo},
	)...)
}

// FundingFields identify the funding source an entry is about.
func FundingFields(id, name string) []zap.Field {
	return StringFields(
		StringField{Key: FieldFundingID, Value: id},
		StringField{Key: FieldFundingName, Value: name},
	)
}
