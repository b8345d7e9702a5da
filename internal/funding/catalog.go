package funding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CatalogKey is the top-level key holding the source list in catalog files.
const CatalogKey = "sources"

// ErrEmptyCatalog is returned when a catalog file holds no sources.
var ErrEmptyCatalog = errors.New("funding catalog is empty")

// LoadFile reads a YAML, JSON or TOML catalog with a top-level "sources"
// list. A JSON file may also be a bare array of records.
func LoadFile(path string) ([]Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("funding catalog path is required")
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if records, ok, err := readJSONArray(path); err != nil {
			return nil, err
		} else if ok {
			return fromRecords(path, records)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read funding catalog %q: %w", path, err)
	}

	raw, ok := v.Get(CatalogKey).([]any)
	if !ok {
		return nil, fmt.Errorf("funding catalog %q: missing %q list", path, CatalogKey)
	}

	records := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		record, ok := toRecord(item)
		if !ok {
			return nil, fmt.Errorf("funding catalog %q: entry %d is not an object", path, i)
		}
		records = append(records, record)
	}

	return fromRecords(path, records)
}

// FromRecords decodes loosely typed records. Numeric ids, amounts given as
// strings and similar variations are accepted.
func FromRecords(records []map[string]any) ([]Source, error) {
	sources := make([]Source, 0, len(records))
	for i, record := range records {
		var src Source
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &src,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("build decoder: %w", err)
		}
		if err := decoder.Decode(normalizeKeys(record)); err != nil {
			return nil, fmt.Errorf("decode funding source %d: %w", i, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func fromRecords(path string, records []map[string]any) ([]Source, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCatalog, path)
	}
	sources, err := FromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("funding catalog %q: %w", path, err)
	}
	return sources, nil
}

func readJSONArray(path string) ([]map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read funding catalog %q: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false, nil
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
		return nil, false, fmt.Errorf("parse funding catalog %q: %w", path, err)
	}
	return records, true, nil
}

func toRecord(item any) (map[string]any, bool) {
	switch val := item.(type) {
	case map[string]any:
		return val, true
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

// normalizeKeys lowercases keys and maps dashes to underscores so that
// "focus-areas" and "Focus_Areas" decode like "focus_areas".
func normalizeKeys(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
		if nested, ok := toRecord(v); ok && key == "eligibility" {
			v = nested
		}
		out[key] = v
	}
	return out
}
