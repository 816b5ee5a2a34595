package canonical

import (
	"strings"

	"github.com/sells-group/registry-ingest/internal/model"
)

// sniffKind guesses the payload family from its first significant byte, with
// the source format hint as a tiebreaker for flat text forms.
func sniffKind(text, hint string) model.ContentKind {
	s := strings.TrimLeft(text, " \t\r\n\uFEFF")
	if s == "" {
		return model.ContentKindUnknown
	}
	switch s[0] {
	case '<':
		return model.ContentKindXML
	case '{', '[':
		return model.ContentKindJSON
	}
	switch strings.ToLower(strings.TrimPrefix(hint, ".")) {
	case "xml", "soap":
		return model.ContentKindXML
	case "json":
		return model.ContentKindJSON
	}
	if looksLikeQueryString(s) {
		return model.ContentKindQueryString
	}
	if looksLikeKeyValue(s) {
		return model.ContentKindKeyValue
	}
	return model.ContentKindUnknown
}

// looksLikeQueryString accepts single-line k=v&k=v bodies.
func looksLikeQueryString(s string) bool {
	line := strings.TrimSpace(s)
	if strings.ContainsAny(line, "\n\r") {
		return false
	}
	return strings.Contains(line, "=") && !strings.ContainsAny(line, "<>{}")
}

// looksLikeKeyValue accepts line-oriented dumps where most lines carry a
// k=v or k: v pair.
func looksLikeKeyValue(s string) bool {
	lines := strings.Split(s, "\n")
	pairs := 0
	nonEmpty := 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		nonEmpty++
		if strings.Contains(ln, "=") || strings.Contains(ln, ": ") {
			pairs++
		}
	}
	return nonEmpty > 0 && pairs*2 > nonEmpty
}
