package model

import "time"

// ParseStatus describes the outcome of canonicalization for a document.
type ParseStatus string

const (
	ParseStatusOK          ParseStatus = "ok"
	ParseStatusParseError  ParseStatus = "parse_error"
	ParseStatusCorrupt     ParseStatus = "corrupt"
	ParseStatusUnsupported ParseStatus = "unsupported"
)

// ContentKind is the sniffed payload family used to pick parser strategies.
type ContentKind string

const (
	ContentKindXML         ContentKind = "xml"
	ContentKindJSON        ContentKind = "json"
	ContentKindQueryString ContentKind = "querystring"
	ContentKindKeyValue    ContentKind = "keyvalue"
	ContentKindUnknown     ContentKind = "unknown"
)

// RawDocument is an ingestion input exactly as delivered: opaque bytes plus
// source bookkeeping. Collection/transport happens upstream.
type RawDocument struct {
	SourceRef  string    `json:"source_ref"`
	Payload    []byte    `json:"-"`
	FormatHint string    `json:"format_hint,omitempty"`
	SourceTS   time.Time `json:"source_ts"`
	ReceivedAt time.Time `json:"received_at"`
}

// DocumentMeta carries provenance and classification extracted during
// canonicalization. Registry/service/method codes drive schema candidate
// lookup; they stay empty when the payload carries no exchange header and
// no signature heuristic matches.
type DocumentMeta struct {
	SourceRef    string      `json:"source_ref"`
	RegistryCode string      `json:"registry_code,omitempty"`
	ServiceCode  string      `json:"service_code,omitempty"`
	MethodCode   string      `json:"method_code,omitempty"`
	RequestID    string      `json:"request_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	ContentKind  ContentKind `json:"content_kind"`
	Strategy     string      `json:"strategy,omitempty"`
	AccessDenied bool        `json:"access_denied,omitempty"`
	DenialDetail string      `json:"denial_detail,omitempty"`
	SourceTS     time.Time   `json:"source_ts"`
	ReceivedAt   time.Time   `json:"received_at"`
}

// CanonicalDocument is the immutable normalized form every downstream step
// consumes. Data is a tree of map[string]any, []any and scalars; Meta and
// Data together are the hashed envelope.
type CanonicalDocument struct {
	DocumentID    string         `json:"document_id"`
	Meta          DocumentMeta   `json:"meta"`
	Data          map[string]any `json:"data"`
	ContentHash   string         `json:"content_hash"`
	CanonicalHash string         `json:"canonical_hash"`
	ParseStatus   ParseStatus    `json:"parse_status"`
}
