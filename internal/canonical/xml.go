package canonical

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/registry-ingest/internal/dsl"
	"github.com/sells-group/registry-ingest/internal/model"
)

// xmlStrategy canonicalizes XML and SOAP payloads into a nested tree.
// Namespace prefixes are stripped, repeated sibling elements merge into
// sequences, attributes become "@name" keys and mixed text lands under
// "#text". X-Road exchange headers contribute classification meta; SOAP
// faults are surfaced for access-denial detection.
type xmlStrategy struct{}

func (xmlStrategy) Name() string { return "xml" }

func (xmlStrategy) CanHandle(kind model.ContentKind) bool {
	return kind == model.ContentKindXML
}

var (
	xroadRegistryPath  = dsl.MustParsePath("$.Envelope.Header.client.subsystemCode")
	xroadServicePath   = dsl.MustParsePath("$.Envelope.Header.service.subsystemCode")
	xroadMethodPath    = dsl.MustParsePath("$.Envelope.Header.service.serviceCode")
	xroadRequestIDPath = dsl.MustParsePath("$.Envelope.Header.id")
	xroadUserIDPath    = dsl.MustParsePath("$.Envelope.Header.userId")
	faultStringPath    = dsl.MustParsePath("$.Envelope.Body.Fault.faultstring")
	faultCodePath      = dsl.MustParsePath("$.Envelope.Body.Fault.faultcode")
)

func (xmlStrategy) Parse(text string) (*Parsed, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "canonical: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	rootName, rootVal, err := buildTree(decoder)
	if err != nil {
		return nil, err
	}
	data := map[string]any{rootName: rootVal}

	p := &Parsed{Data: data}
	if rootName == "Envelope" {
		p.RegistryCode, _ = xroadRegistryPath.FirstString(data)
		p.ServiceCode, _ = xroadServicePath.FirstString(data)
		p.MethodCode, _ = xroadMethodPath.FirstString(data)
		p.RequestID, _ = xroadRequestIDPath.FirstString(data)
		p.UserID, _ = xroadUserIDPath.FirstString(data)
		if fault, ok := faultStringPath.FirstString(data); ok {
			code, _ := faultCodePath.FirstString(data)
			p.Fault = strings.TrimSpace(code + " " + fault)
		}
	}
	return p, nil
}

// buildTree consumes the token stream into nested maps. Leaf elements with
// neither attributes nor children collapse to their trimmed text.
func buildTree(decoder *xml.Decoder) (string, any, error) {
	type frame struct {
		name  string
		obj   map[string]any
		text  strings.Builder
		leaf  bool
	}
	var stack []*frame
	var rootName string
	var rootVal any

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, eris.Wrap(err, "canonical: xml token")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			f := &frame{name: t.Name.Local, obj: map[string]any{}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				f.obj["@"+a.Name.Local] = a.Value
			}
			f.leaf = len(f.obj) == 0
			stack = append(stack, f)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return "", nil, eris.New("canonical: unbalanced xml")
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			var val any
			txt := strings.TrimSpace(f.text.String())
			if f.leaf && len(f.obj) == 0 {
				if txt != "" {
					val = txt
				}
			} else {
				if txt != "" {
					f.obj["#text"] = txt
				}
				val = f.obj
			}

			if len(stack) == 0 {
				rootName = f.name
				rootVal = val
				continue
			}
			parent := stack[len(stack)-1]
			parent.leaf = false
			if existing, ok := parent.obj[f.name]; ok {
				if seq, ok := existing.([]any); ok {
					parent.obj[f.name] = append(seq, val)
				} else {
					parent.obj[f.name] = []any{existing, val}
				}
			} else {
				parent.obj[f.name] = val
			}
		}
	}
	if rootName == "" {
		return "", nil, eris.New("canonical: no root element")
	}
	return rootName, rootVal, nil
}
