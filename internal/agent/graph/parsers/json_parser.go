package parsers

import (
	"encoding/json"
	"strings"

	logx "github.com/drivana/sales-agent/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit log snippet size
)

// ExtractObject returns the first top-level JSON object embedded in free-form
// model output. Models wrap their answers in commentary, markdown code fences
// or both; this tolerates all of that. The boolean is false when no balanced
// object is present.
func ExtractObject(content string) (string, bool) {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "json_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	content = stripCodeFences(content)

	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	// Balanced-brace scan, string-literal aware so braces inside values do
	// not end the object early.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// Decode extracts and unmarshals a JSON object from model output into T.
// It fails soft: any shape of garbage yields (zero, false) and a debug log,
// never an error the caller has to branch on — "no fields extracted" is an
// expected case, not an exception path.
func Decode[T any](content string) (out T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "json_parser").Msgf("panic recovered: %v", r)
			var zero T
			out, ok = zero, false
		}
	}()

	obj, found := ExtractObject(content)
	if !found {
		logx.Debug().
			Str("component", "json_parser").
			Str("snippet", safeSnippet(content)).
			Msg("no JSON object in model output")
		return out, false
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		logx.Debug().
			Str("component", "json_parser").
			Err(err).
			Str("snippet", safeSnippet(obj)).
			Msg("model output not decodable")
		var zero T
		return zero, false
	}
	return out, true
}

// stripCodeFences removes markdown code fences (``` or ```json) so the brace
// scan sees the payload itself.
func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
