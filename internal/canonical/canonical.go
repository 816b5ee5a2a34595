// Package canonical turns raw registry payloads into the immutable
// normalized form the rest of the pipeline consumes. Parsing is organized as
// ordered strategies; the first one that accepts the payload wins, and its
// name is recorded on the document for provenance.
package canonical

import (
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/model"
)

// Parsed is what a strategy extracts from payload text: the data tree plus
// any classification and fault information the format carries.
type Parsed struct {
	Data         map[string]any
	RegistryCode string
	ServiceCode  string
	MethodCode   string
	RequestID    string
	UserID       string
	Fault        string
}

// Strategy is one parser in the ordered chain. CanHandle gates the first
// pass over strategies; in the second pass every remaining strategy gets a
// try regardless, so a mis-sniffed payload still finds its parser.
type Strategy interface {
	Name() string
	CanHandle(kind model.ContentKind) bool
	Parse(text string) (*Parsed, error)
}

// Canonicalizer runs the strategy chain and assembles canonical documents.
type Canonicalizer struct {
	strategies    []Strategy
	denialMarkers []string
	log           *zap.Logger
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithDenialMarkers replaces the built-in access-denial payload markers.
func WithDenialMarkers(markers []string) Option {
	return func(c *Canonicalizer) {
		c.denialMarkers = markers
	}
}

// New builds a Canonicalizer with the full strategy chain in priority
// order: xml, json, querystring, keyvalue.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		strategies:    []Strategy{xmlStrategy{}, jsonStrategy{}, queryStringStrategy{}, keyValueStrategy{}},
		denialMarkers: defaultDenialMarkers,
		log:           zap.L().Named("canonical"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Canonicalize never fails; undecodable or unparseable payloads come back
// with the matching parse status and flow to quarantine downstream.
func (c *Canonicalizer) Canonicalize(docID string, raw model.RawDocument) *model.CanonicalDocument {
	doc := &model.CanonicalDocument{
		DocumentID:  docID,
		ContentHash: ContentHash(raw.Payload),
		ParseStatus: model.ParseStatusOK,
		Meta: model.DocumentMeta{
			SourceRef:  raw.SourceRef,
			SourceTS:   raw.SourceTS,
			ReceivedAt: raw.ReceivedAt,
		},
	}
	if doc.Meta.SourceTS.IsZero() {
		doc.Meta.SourceTS = raw.ReceivedAt
	}

	text, ok := decodeText(raw.Payload)
	if !ok {
		doc.ParseStatus = model.ParseStatusCorrupt
		doc.Meta.ContentKind = model.ContentKindUnknown
		doc.CanonicalHash = canonicalHash(doc.Meta, nil)
		c.log.Debug("payload not decodable as text",
			zap.String("doc_id", docID),
			zap.String("source_ref", raw.SourceRef))
		return doc
	}

	kind := sniffKind(text, raw.FormatHint)
	doc.Meta.ContentKind = kind

	parsed, strategy := c.parse(kind, text, docID)
	if parsed == nil {
		doc.ParseStatus = model.ParseStatusParseError
		doc.CanonicalHash = canonicalHash(doc.Meta, nil)
		return doc
	}

	doc.Meta.Strategy = strategy
	doc.Data = parsed.Data
	doc.Meta.RegistryCode = parsed.RegistryCode
	doc.Meta.ServiceCode = parsed.ServiceCode
	doc.Meta.MethodCode = parsed.MethodCode
	doc.Meta.RequestID = parsed.RequestID
	doc.Meta.UserID = parsed.UserID

	if doc.Meta.ServiceCode == "" {
		if service := detectSignature(kind, text); service != "" {
			doc.Meta.ServiceCode = service
			if doc.Meta.RegistryCode == "" {
				doc.Meta.RegistryCode = registryFromService(service)
			}
			c.log.Debug("classified by payload signature",
				zap.String("doc_id", docID),
				zap.String("service_code", service))
		}
	}

	if parsed.Fault != "" {
		doc.Meta.AccessDenied = true
		doc.Meta.DenialDetail = parsed.Fault
	} else if marker, hit := matchDenialMarker(text, c.denialMarkers); hit {
		doc.Meta.AccessDenied = true
		doc.Meta.DenialDetail = "payload marker: " + marker
	}

	doc.CanonicalHash = canonicalHash(doc.Meta, doc.Data)
	return doc
}

// parse tries CanHandle strategies first, then the rest in declared order.
func (c *Canonicalizer) parse(kind model.ContentKind, text, docID string) (*Parsed, string) {
	tried := make(map[string]bool, len(c.strategies))
	for _, s := range c.strategies {
		if !s.CanHandle(kind) {
			continue
		}
		tried[s.Name()] = true
		if p := c.tryStrategy(s, text, docID); p != nil {
			return p, s.Name()
		}
	}
	for _, s := range c.strategies {
		if tried[s.Name()] {
			continue
		}
		if p := c.tryStrategy(s, text, docID); p != nil {
			return p, s.Name()
		}
	}
	return nil, ""
}

func (c *Canonicalizer) tryStrategy(s Strategy, text, docID string) *Parsed {
	p, err := s.Parse(text)
	if err != nil {
		c.log.Debug("strategy rejected payload",
			zap.String("doc_id", docID),
			zap.String("strategy", s.Name()),
			zap.Error(err))
		return nil
	}
	return p
}
