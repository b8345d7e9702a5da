// Package llmjson recovers JSON values from model output that was supposed to
// be strict JSON but arrives wrapped in prose, markdown fences or truncated.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrUnparsable is returned when no JSON value can be recovered.
	ErrUnparsable = errors.New("no parsable json in model output")
	// ErrNotObject is returned when an object is expected but another value is recovered.
	ErrNotObject = errors.New("model output is not a json object")
)

var (
	fencePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	arrayPattern  = regexp.MustCompile(`(?s)\[.*\]`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// maxRepairCuts bounds how many element boundaries repair walks back over.
const maxRepairCuts = 32

// Parse returns the best-effort decoded value of raw. Strategies are tried in
// order: the whole text, the body of a markdown fence, the widest {...} span,
// the widest [...] span, and finally a repair of truncated output.
func Parse(raw string) (any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrUnparsable
	}

	if v, ok := decode(text); ok {
		return v, nil
	}

	if m := fencePattern.FindStringSubmatch(text); len(m) > 1 {
		if v, ok := decode(m[1]); ok {
			return v, nil
		}
		text = strings.TrimSpace(m[1])
	} else if strings.HasPrefix(text, "```") {
		// Opening fence without a closing one: output was cut off.
		text = strings.TrimSpace(text[strings.IndexByte(text+"\n", '\n'):])
	}

	if span := objectPattern.FindString(text); span != "" {
		if v, ok := decode(span); ok {
			return v, nil
		}
	}

	if span := arrayPattern.FindString(text); span != "" {
		if v, ok := decode(span); ok {
			return v, nil
		}
	}

	for _, candidate := range repairCandidates(text) {
		if v, ok := decode(candidate); ok {
			return v, nil
		}
	}

	return nil, ErrUnparsable
}

// ParseObject is Parse restricted to a top-level object.
func ParseObject(raw string) (map[string]any, error) {
	v, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// Decode parses raw into out using json tags. Field types are converted
// weakly so that numbers quoted as strings and similar model quirks still
// decode. Extra hooks run after the built-in cleanup.
func Decode(raw string, out any, hooks ...mapstructure.DecodeHookFunc) error {
	var v any
	var err error
	if wantsObject(out) {
		v, err = ParseObject(raw)
	} else {
		v, err = Parse(raw)
	}
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(append([]mapstructure.DecodeHookFunc{tidy}, hooks...)...),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

func wantsObject(out any) bool {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && (t.Kind() == reflect.Struct || t.Kind() == reflect.Map)
}

// tidy drops list entries and map values that cannot fill the target type,
// trims text and flattens composites meant to be text.
func tidy(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.String:
		switch val := data.(type) {
		case string:
			return strings.TrimSpace(val), nil
		case map[string]any, []any:
			return String(val), nil
		}
	case reflect.Slice:
		list, ok := data.([]any)
		if !ok {
			if to.Elem().Kind() == reflect.Struct {
				return []any{}, nil
			}
			return data, nil
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			switch to.Elem().Kind() {
			case reflect.Struct:
				if _, ok := item.(map[string]any); !ok {
					continue
				}
			case reflect.String:
				if String(item) == "" {
					continue
				}
			}
			out = append(out, item)
		}
		return out, nil
	case reflect.Map:
		obj, ok := data.(map[string]any)
		if !ok {
			return map[string]any{}, nil
		}
		if to.Elem().Kind() != reflect.String {
			return obj, nil
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			if String(v) != "" {
				out[k] = v
			}
		}
		return out, nil
	}
	return data, nil
}

func decode(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		return nil, false
	}
}

type cut struct {
	pos     int
	closers string
}

// repairCandidates produces closings of a possibly truncated JSON document:
// first the whole text with open strings and brackets closed, then the text
// cut back at each earlier element boundary.
func repairCandidates(text string) []string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil
	}
	s := text[start:]

	var (
		stack    []byte
		cuts     []cut
		inString bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return []string{trailingComma.ReplaceAllString(s[:i+1], "$1")}
			}
		case ',':
			cuts = append(cuts, cut{pos: i, closers: closers(stack)})
		}
	}

	tail := s
	if inString {
		if escaped {
			tail = tail[:len(tail)-1]
		}
		tail += `"`
	}
	tail = strings.TrimRight(tail, " \t\r\n")
	tail = strings.TrimSuffix(tail, ",")
	if strings.HasSuffix(tail, ":") {
		tail += "null"
	}

	candidates := []string{trailingComma.ReplaceAllString(tail+closers(stack), "$1")}
	for i := len(cuts) - 1; i >= 0 && len(cuts)-i <= maxRepairCuts; i-- {
		c := cuts[i]
		candidates = append(candidates, trailingComma.ReplaceAllString(s[:c.pos]+c.closers, "$1"))
	}
	return candidates
}

func closers(stack []byte) string {
	b := make([]byte, len(stack))
	for i := range stack {
		b[i] = stack[len(stack)-1-i]
	}
	return string(b)
}
