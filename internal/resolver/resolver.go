// Package resolver picks the single schema variant that describes a
// canonical document: fetch candidates by classification, score every
// variant matcher, select the unique best. No candidate and tied candidates
// are both quarantine outcomes, never guesses.
package resolver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/schema"
)

// Candidate is one scored variant, kept for lineage and quarantine
// evidence.
type Candidate struct {
	VariantID    string `json:"variant_id"`
	RegistryCode string `json:"registry_code"`
	ServiceCode  string `json:"service_code,omitempty"`
	Score        int    `json:"score"`
}

// Result is a successful resolution.
type Result struct {
	Variant    *schema.CompiledVariant
	Score      int
	Candidates []Candidate
}

// ResolveError is a structured rejection: the document cannot be mapped and
// must be quarantined with the evidence attached.
type ResolveError struct {
	Reason   model.ReasonCode
	Message  string
	Evidence map[string]any
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolver: %s: %s", e.Reason, e.Message)
}

// Resolver scores variants against documents.
type Resolver struct {
	log *zap.Logger
}

// New builds a Resolver.
func New() *Resolver {
	return &Resolver{log: zap.L().Named("resolver")}
}

// Resolve selects the variant for a document against one coherent schema
// snapshot. The caller holds the snapshot for the whole document so every
// step sees the same rule set.
func (r *Resolver) Resolve(snap *schema.Snapshot, doc *model.CanonicalDocument) (*Result, error) {
	candidates := snap.CandidatesFor(doc.Meta)
	scored := make([]Candidate, 0, len(candidates))
	var best []*schema.CompiledVariant
	bestScore := 0

	for _, v := range candidates {
		score := v.Score(doc.Data)
		scored = append(scored, Candidate{
			VariantID:    v.VariantID,
			RegistryCode: v.Registry.RegistryCode,
			ServiceCode:  v.Registry.ServiceCode,
			Score:        score,
		})
		if score == 0 {
			continue
		}
		switch {
		case score > bestScore:
			bestScore = score
			best = best[:0]
			best = append(best, v)
		case score == bestScore:
			best = append(best, v)
		}
	}

	if len(best) == 0 {
		return nil, &ResolveError{
			Reason:  model.ReasonSchemaNotFound,
			Message: fmt.Sprintf("no variant matched among %d candidates", len(candidates)),
			Evidence: map[string]any{
				"registry_code": doc.Meta.RegistryCode,
				"service_code":  doc.Meta.ServiceCode,
				"method_code":   doc.Meta.MethodCode,
				"attempted":     scored,
			},
		}
	}
	if len(best) > 1 {
		tied := make([]Candidate, 0, len(best))
		for _, v := range best {
			tied = append(tied, Candidate{
				VariantID:    v.VariantID,
				RegistryCode: v.Registry.RegistryCode,
				ServiceCode:  v.Registry.ServiceCode,
				Score:        bestScore,
			})
		}
		return nil, &ResolveError{
			Reason:  model.ReasonVariantAmbiguous,
			Message: fmt.Sprintf("%d variants tied at score %d", len(best), bestScore),
			Evidence: map[string]any{
				"score":     bestScore,
				"tied":      tied,
				"attempted": scored,
			},
		}
	}

	r.log.Debug("variant resolved",
		zap.String("doc_id", doc.DocumentID),
		zap.String("variant_id", best[0].VariantID),
		zap.Int("score", bestScore),
		zap.Int("candidates", len(candidates)))

	return &Result{Variant: best[0], Score: bestScore, Candidates: scored}, nil
}
