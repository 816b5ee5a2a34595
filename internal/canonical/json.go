package canonical

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-ingest/internal/model"
)

// jsonStrategy canonicalizes JSON payloads. Before giving up on a parse
// failure it applies deterministic cleanup for the two defects legacy export
// tooling actually produces: trailing commas and unresolved {{placeholder}}
// template markers.
type jsonStrategy struct{}

func (jsonStrategy) Name() string { return "json" }

func (jsonStrategy) CanHandle(kind model.ContentKind) bool {
	return kind == model.ContentKindJSON
}

var (
	trailingCommaRe      = regexp.MustCompile(`,\s*([}\]])`)
	quotedPlaceholderRe  = regexp.MustCompile(`"\{\{[^{}]*\}\}"`)
	barePlaceholderRe    = regexp.MustCompile(`\{\{[^{}]*\}\}`)
)

func (jsonStrategy) Parse(text string) (*Parsed, error) {
	var obj any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		cleaned := trailingCommaRe.ReplaceAllString(text, "$1")
		cleaned = quotedPlaceholderRe.ReplaceAllString(cleaned, "null")
		cleaned = barePlaceholderRe.ReplaceAllString(cleaned, "null")
		if err2 := json.Unmarshal([]byte(cleaned), &obj); err2 != nil {
			return nil, eris.Wrap(err, "canonical: json parse")
		}
	}

	var data map[string]any
	switch t := obj.(type) {
	case map[string]any:
		data = t
	case []any:
		// Top-level arrays (court document exports) get a stable wrapper so
		// paths can address them.
		data = map[string]any{"items": t}
	default:
		return nil, eris.New("canonical: json payload is a bare scalar")
	}
	return &Parsed{Data: data}, nil
}

// denialMarkers in payload text that indicate the upstream registry refused
// the request rather than answering it.
var defaultDenialMarkers = []string{
	"ACCESS_DENIED",
	"AccessDenied",
	"Доступ заборонено",
	"не маєте прав доступу",
}

func matchDenialMarker(text string, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}
