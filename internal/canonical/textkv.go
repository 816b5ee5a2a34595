package canonical

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-ingest/internal/model"
)

// queryStringStrategy canonicalizes url-encoded request bodies.
type queryStringStrategy struct{}

func (queryStringStrategy) Name() string { return "querystring" }

func (queryStringStrategy) CanHandle(kind model.ContentKind) bool {
	return kind == model.ContentKindQueryString
}

func (queryStringStrategy) Parse(text string) (*Parsed, error) {
	line := strings.TrimSpace(text)
	if !looksLikeQueryString(line) {
		return nil, eris.New("canonical: not a query string")
	}
	values, err := url.ParseQuery(line)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: query string parse")
	}
	if len(values) == 0 {
		return nil, eris.New("canonical: empty query string")
	}
	data := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			data[k] = vs[0]
			continue
		}
		seq := make([]any, len(vs))
		for i, v := range vs {
			seq[i] = v
		}
		data[k] = seq
	}
	return &Parsed{Data: data}, nil
}

// keyValueStrategy canonicalizes line-oriented k=v / k: v dumps.
type keyValueStrategy struct{}

func (keyValueStrategy) Name() string { return "keyvalue" }

func (keyValueStrategy) CanHandle(kind model.ContentKind) bool {
	return kind == model.ContentKindKeyValue
}

func (keyValueStrategy) Parse(text string) (*Parsed, error) {
	data := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var key, val string
		switch {
		case strings.Contains(line, "="):
			parts := strings.SplitN(line, "=", 2)
			key, val = parts[0], parts[1]
		case strings.Contains(line, ":"):
			parts := strings.SplitN(line, ":", 2)
			key, val = parts[0], parts[1]
		default:
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		data[key] = strings.TrimSpace(val)
	}
	if len(data) == 0 {
		return nil, eris.New("canonical: no key/value pairs")
	}
	return &Parsed{Data: data}, nil
}
