// Package pipeline drives registry documents through canonicalization,
// schema resolution, entity mapping, conflict resolution and graph upsert,
// recording a lineage trace for every step. Documents are isolated: a
// rejected document lands in quarantine with evidence and the batch keeps
// going. Store access is wrapped in retry and circuit breaking; only
// store-connectivity exhaustion escalates to the run level.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/binder"
	"github.com/sells-group/registry-ingest/internal/canonical"
	"github.com/sells-group/registry-ingest/internal/graph"
	"github.com/sells-group/registry-ingest/internal/lineage"
	"github.com/sells-group/registry-ingest/internal/mapper"
	"github.com/sells-group/registry-ingest/internal/merge"
	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/resilience"
	"github.com/sells-group/registry-ingest/internal/resolver"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// Breaker registry keys for the two stores the pipeline writes to.
const (
	graphStoreName   = "graph"
	lineageStoreName = "lineage"
)

// excerptLimit bounds payload excerpts carried as quarantine evidence.
const excerptLimit = 512

// Pipeline owns the per-document state machine and its dependencies.
type Pipeline struct {
	schemas  *schema.Cache
	graph    graph.Store
	lineage  lineage.Store
	canon    *canonical.Canonicalizer
	resolver *resolver.Resolver
	mapper   *mapper.Mapper
	merger   *merge.Resolver
	binder   *binder.Binder
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
	log      *zap.Logger
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithCanonicalizer swaps in a canonicalizer built with custom options,
// such as extra denial markers.
func WithCanonicalizer(c *canonical.Canonicalizer) Option {
	return func(p *Pipeline) { p.canon = c }
}

// WithRetry replaces the store retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithBreakers replaces the store circuit breakers.
func WithBreakers(b *resilience.ServiceBreakers) Option {
	return func(p *Pipeline) { p.breakers = b }
}

// New assembles a Pipeline over the three external stores. The graph store
// is wrapped with the retry policy and its circuit breaker once, after
// options apply.
func New(schemas *schema.Cache, graphStore graph.Store, lineageStore lineage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		schemas:  schemas,
		lineage:  lineageStore,
		canon:    canonical.New(),
		resolver: resolver.New(),
		mapper:   mapper.New(),
		merger:   merge.New(),
		binder:   binder.New(),
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		log:      zap.L().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.graph = &resilientGraph{
		inner:   graphStore,
		retry:   p.retry,
		breaker: p.breakers.Get(graphStoreName),
	}
	return p
}

// Breakers exposes the store circuit breakers for health reporting.
func (p *Pipeline) Breakers() *resilience.ServiceBreakers { return p.breakers }

// Outcome is the terminal result of one document's pass through the
// pipeline.
type Outcome struct {
	DocumentID    string           `json:"document_id"`
	Quarantined   bool             `json:"quarantined"`
	Reason        model.ReasonCode `json:"reason,omitempty"`
	Entities      int              `json:"entities"`
	Nodes         int              `json:"nodes"`
	Relationships int              `json:"relationships"`

	// StoreDegraded marks a store_unavailable outcome after retry
	// exhaustion or an open breaker; the run finishes degraded.
	StoreDegraded bool `json:"-"`
}

// DocumentID derives the deterministic per-run document id: a name-based
// UUID over the run id and source reference, so re-dispatching the same
// reference within one run converges on a single document.
func DocumentID(runID, sourceRef string) string {
	ns, err := uuid.Parse(runID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID))
	}
	return uuid.NewSHA1(ns, []byte(sourceRef)).String()
}

// Process runs one document through every step in order. Rejections
// quarantine the document and return a nil error; the error return is
// reserved for lineage-store failures that left the outcome unrecorded,
// and for cancellation mid-document.
func (p *Pipeline) Process(ctx context.Context, runID string, raw model.RawDocument) (*Outcome, error) {
	docID := DocumentID(runID, raw.SourceRef)
	out := &Outcome{DocumentID: docID}
	tr := newTrace(runID, docID)
	log := p.log.With(
		zap.String("run_id", runID),
		zap.String("document_id", docID),
		zap.String("source_ref", raw.SourceRef),
	)

	tr.start(model.StepCanonicalize)
	doc := p.canon.Canonicalize(docID, raw)
	switch doc.ParseStatus {
	case model.ParseStatusOK:
		tr.done(model.StepCanonicalize, map[string]any{
			"content_kind":   string(doc.Meta.ContentKind),
			"strategy":       doc.Meta.Strategy,
			"content_hash":   doc.ContentHash,
			"canonical_hash": doc.CanonicalHash,
		})
	case model.ParseStatusCorrupt:
		evidence := map[string]any{
			"parse_status": string(doc.ParseStatus),
			"excerpt":      payloadExcerpt(raw.Payload),
		}
		tr.fail(model.StepCanonicalize, model.ReasonCorrupt, evidence)
		return p.quarantine(ctx, log, tr, out, doc,
			model.ReasonCorrupt, "canonical: payload is not decodable text", evidence)
	default:
		evidence := map[string]any{
			"parse_status": string(doc.ParseStatus),
			"content_kind": string(doc.Meta.ContentKind),
			"excerpt":      payloadExcerpt(raw.Payload),
		}
		tr.fail(model.StepCanonicalize, model.ReasonParseError, evidence)
		return p.quarantine(ctx, log, tr, out, doc,
			model.ReasonParseError, "canonical: no strategy parsed the payload", evidence)
	}

	// Denial rides in on an otherwise well-formed payload. It still ends
	// the document before any schema work.
	if doc.Meta.AccessDenied {
		return p.quarantine(ctx, log, tr, out, doc,
			model.ReasonAccessDenied, "source reported an authorization failure",
			map[string]any{"detail": doc.Meta.DenialDetail})
	}

	// One snapshot for the whole document: resolution, mapping and merge
	// all see the same rule set even if a refresh lands mid-flight.
	snap, err := p.schemas.Current()
	if err != nil {
		out.StoreDegraded = true
		return p.quarantine(ctx, log, tr, out, doc,
			model.ReasonStoreUnavailable, "schema snapshot unavailable",
			map[string]any{"error": err.Error()})
	}

	tr.start(model.StepResolveSchema)
	res, err := p.resolver.Resolve(snap, doc)
	if err != nil {
		return p.reject(ctx, log, tr, out, doc, model.StepResolveSchema, err)
	}
	tr.done(model.StepResolveSchema, map[string]any{
		"variant_id": res.Variant.VariantID,
		"score":      res.Score,
		"candidates": len(res.Candidates),
	})

	tr.start(model.StepMapEntities)
	instances, err := p.mapper.Map(snap, res.Variant, doc)
	if err != nil {
		return p.reject(ctx, log, tr, out, doc, model.StepMapEntities, err)
	}
	out.Entities = len(instances)
	tr.done(model.StepMapEntities, map[string]any{"instances": len(instances)})

	// The whole node set is conflict-checked before the first write, so a
	// quarantined document leaves zero graph writes behind.
	tr.start(model.StepResolveConflicts)
	plan, err := p.merger.Plan(ctx, snap, p.graph, doc, instances)
	if err != nil {
		return p.reject(ctx, log, tr, out, doc, model.StepResolveConflicts, err)
	}
	planDetails := map[string]any{"nodes": len(plan.Nodes), "warnings": len(plan.Warnings)}
	if n := len(plan.Warnings); n > 0 {
		if n <= 10 {
			planDetails["kept_existing"] = plan.Warnings
		}
		tr.warn(model.StepResolveConflicts, planDetails)
	} else {
		tr.done(model.StepResolveConflicts, planDetails)
	}

	tr.start(model.StepUpsertEntities)
	if len(plan.Nodes) == 0 {
		tr.skip(model.StepUpsertEntities)
	} else {
		if err := p.graph.UpsertNodes(ctx, plan.Nodes); err != nil {
			return p.reject(ctx, log, tr, out, doc, model.StepUpsertEntities, err)
		}
		out.Nodes = len(plan.Nodes)
		tr.done(model.StepUpsertEntities, map[string]any{"nodes": len(plan.Nodes)})
	}

	tr.start(model.StepBuildRelationships)
	rels, err := p.binder.Build(res.Variant, doc, instances)
	if err != nil {
		return p.reject(ctx, log, tr, out, doc, model.StepBuildRelationships, err)
	}
	tr.done(model.StepBuildRelationships, map[string]any{"relationships": len(rels)})

	tr.start(model.StepUpsertRelationships)
	if len(rels) == 0 {
		tr.skip(model.StepUpsertRelationships)
	} else {
		if err := p.graph.UpsertRelationships(ctx, toGraphRels(rels)); err != nil {
			return p.reject(ctx, log, tr, out, doc, model.StepUpsertRelationships, err)
		}
		out.Relationships = len(rels)
		tr.done(model.StepUpsertRelationships, map[string]any{"relationships": len(rels)})
	}

	tr.start(model.StepFinalize)
	tr.done(model.StepFinalize, map[string]any{"state": string(model.DocStateProcessed)})
	if err := p.finishDocument(ctx, runID, doc, model.DocStateProcessed, ""); err != nil {
		log.Error("document state write failed", zap.Error(err))
		return out, eris.Wrapf(err, "pipeline: finish document %s", docID)
	}
	if err := p.flushTrace(ctx, tr); err != nil {
		log.Error("lineage flush failed", zap.Error(err))
		return out, eris.Wrapf(err, "pipeline: flush lineage for document %s", docID)
	}

	log.Info("document processed",
		zap.Int("entities", out.Entities),
		zap.Int("nodes", out.Nodes),
		zap.Int("relationships", out.Relationships))
	return out, nil
}

// reject closes the failing step and routes the document to quarantine.
// Stage errors that are not structured rejections are store failures whose
// retry and breaker wrapping has already run; they quarantine as
// store_unavailable unless the context itself died.
func (p *Pipeline) reject(ctx context.Context, log *zap.Logger, tr *trace, out *Outcome, doc *model.CanonicalDocument, step model.Step, err error) (*Outcome, error) {
	reason, msg, evidence, ok := rejection(err)
	if !ok {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		reason = model.ReasonStoreUnavailable
		msg = err.Error()
		evidence = map[string]any{"error": err.Error(), "class": resilience.ClassifyError(err)}
		out.StoreDegraded = true
	}
	tr.fail(step, reason, evidence)
	return p.quarantine(ctx, log, tr, out, doc, reason, msg, evidence)
}

// quarantine records the terminal rejection: quarantine record first, then
// the document state, then the trace. A document that cannot even be
// quarantined is returned as an error for the orchestrator to count.
func (p *Pipeline) quarantine(ctx context.Context, log *zap.Logger, tr *trace, out *Outcome, doc *model.CanonicalDocument, reason model.ReasonCode, msg string, evidence map[string]any) (*Outcome, error) {
	out.Quarantined = true
	out.Reason = reason

	rec := &model.QuarantineRecord{
		RunID:       tr.runID,
		DocumentID:  doc.DocumentID,
		SourceRef:   doc.Meta.SourceRef,
		ContentHash: doc.ContentHash,
		Reason:      reason,
		Message:     msg,
		Evidence:    evidence,
	}
	var created *model.QuarantineRecord
	err := p.lineageExec(ctx, "create_quarantine", func(ctx context.Context) error {
		var qErr error
		created, qErr = p.lineage.CreateQuarantine(ctx, rec)
		return qErr
	})
	if err != nil {
		log.Error("quarantine record write failed",
			zap.String("reason", string(reason)), zap.Error(err))
		return out, eris.Wrapf(err, "pipeline: quarantine document %s", doc.DocumentID)
	}

	tr.start(model.StepFinalize)
	tr.fail(model.StepFinalize, reason, map[string]any{"quarantine_id": created.ID})
	if err := p.finishDocument(ctx, tr.runID, doc, model.DocStateQuarantined, reason); err != nil {
		log.Error("document state write failed", zap.Error(err))
		return out, eris.Wrapf(err, "pipeline: finish document %s", doc.DocumentID)
	}
	if err := p.flushTrace(ctx, tr); err != nil {
		log.Error("lineage flush failed", zap.Error(err))
		return out, eris.Wrapf(err, "pipeline: flush lineage for document %s", doc.DocumentID)
	}

	log.Warn("document quarantined",
		zap.String("reason", string(reason)),
		zap.String("quarantine_id", created.ID))
	return out, nil
}

func (p *Pipeline) finishDocument(ctx context.Context, runID string, doc *model.CanonicalDocument, state model.DocumentState, reason model.ReasonCode) error {
	rec := &model.DocumentRecord{
		DocumentID:    doc.DocumentID,
		RunID:         runID,
		SourceRef:     doc.Meta.SourceRef,
		ContentHash:   doc.ContentHash,
		CanonicalHash: doc.CanonicalHash,
		State:         state,
		Reason:        reason,
	}
	return p.lineageExec(ctx, "upsert_document", func(ctx context.Context) error {
		return p.lineage.UpsertDocument(ctx, rec)
	})
}

func (p *Pipeline) flushTrace(ctx context.Context, tr *trace) error {
	return p.lineageExec(ctx, "append_events", func(ctx context.Context) error {
		return tr.flush(ctx, p.lineage)
	})
}

// lineageExec runs one lineage write under the lineage breaker and the
// retry policy.
func (p *Pipeline) lineageExec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger(lineageStoreName, op)
	return p.breakers.Get(lineageStoreName).Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, cfg, fn)
	})
}

// rejection unpacks the structured stage errors that terminate a document.
func rejection(err error) (model.ReasonCode, string, map[string]any, bool) {
	var resolveErr *resolver.ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Reason, resolveErr.Message, resolveErr.Evidence, true
	}
	var mapErr *mapper.MapError
	if errors.As(err, &mapErr) {
		return mapErr.Reason, mapErr.Message, mapErr.Evidence, true
	}
	var conflictErr *merge.ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr.Reason, conflictErr.Message, conflictErr.Evidence, true
	}
	var bindErr *binder.BindError
	if errors.As(err, &bindErr) {
		return bindErr.Reason, bindErr.Message, bindErr.Evidence, true
	}
	return "", "", nil, false
}

// toGraphRels projects bound relationship instances onto the store's edge
// form.
func toGraphRels(rels []*model.RelationshipInstance) []*graph.Relationship {
	out := make([]*graph.Relationship, len(rels))
	for i, r := range rels {
		out[i] = &graph.Relationship{
			Type:       r.Type,
			FromLabel:  r.FromEntity,
			FromID:     r.FromID,
			ToLabel:    r.ToEntity,
			ToID:       r.ToID,
			Key:        r.Key,
			Properties: r.Properties,
		}
	}
	return out
}

func payloadExcerpt(payload []byte) string {
	s := string(payload)
	if len(s) > excerptLimit {
		s = s[:excerptLimit]
	}
	return strings.ToValidUTF8(s, "�")
}
