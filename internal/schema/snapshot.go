package schema

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/model"
)

// Snapshot is one immutable compiled view of the schema store. Consumers
// hold a snapshot for the duration of a document and never observe a
// half-refreshed state.
type Snapshot struct {
	variants []*CompiledVariant
	entities map[string]*CompiledEntity
	loadedAt time.Time
}

// BuildSnapshot compiles a bundle. Only active definitions participate;
// drafts and deprecated definitions are skipped with a log line. A
// definition that fails to compile fails the whole snapshot: serving a
// partial rule set would misclassify documents.
func BuildSnapshot(b *Bundle) (*Snapshot, error) {
	s := &Snapshot{
		entities: map[string]*CompiledEntity{},
		loadedAt: time.Now().UTC(),
	}
	log := zap.L().Named("schema")
	for _, reg := range b.Registries {
		if reg.Status != LifecycleActive {
			log.Debug("skipping inactive registry definition",
				zap.String("registry_code", reg.RegistryCode),
				zap.String("service_code", reg.ServiceCode),
				zap.String("status", string(reg.Status)))
			continue
		}
		compiled, err := CompileRegistry(reg)
		if err != nil {
			return nil, err
		}
		s.variants = append(s.variants, compiled...)
	}
	for _, ent := range b.Entities {
		if ent.Status != LifecycleActive {
			log.Debug("skipping inactive entity definition",
				zap.String("entity", ent.Entity),
				zap.String("status", string(ent.Status)))
			continue
		}
		ce, err := CompileEntity(ent)
		if err != nil {
			return nil, err
		}
		s.entities[ent.Entity] = ce
	}
	return s, nil
}

// LoadedAt is when this snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// VariantCount is the number of active compiled variants.
func (s *Snapshot) VariantCount() int { return len(s.variants) }

// EntityCount is the number of active entity definitions.
func (s *Snapshot) EntityCount() int { return len(s.entities) }

// CandidatesFor returns the variants whose registry definition is
// compatible with the document's classification. A definition constrains
// only the codes it declares; a document constrains only the codes it
// carries. When nothing matches the classification, every active variant is
// a candidate so unclassified documents still resolve by structure alone.
func (s *Snapshot) CandidatesFor(meta model.DocumentMeta) []*CompiledVariant {
	var out []*CompiledVariant
	for _, v := range s.variants {
		if classificationCompatible(v.Registry, meta) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return s.variants
	}
	return out
}

func classificationCompatible(def *RegistryDefinition, meta model.DocumentMeta) bool {
	if meta.RegistryCode != "" && def.RegistryCode != meta.RegistryCode {
		return false
	}
	if meta.ServiceCode != "" && def.ServiceCode != "" && def.ServiceCode != meta.ServiceCode {
		return false
	}
	if meta.MethodCode != "" && def.MethodCode != "" && def.MethodCode != meta.MethodCode {
		return false
	}
	return true
}

// Entity returns the compiled entity definition for a type.
func (s *Snapshot) Entity(name string) (*CompiledEntity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// EntityTypes lists every entity type with an active definition.
func (s *Snapshot) EntityTypes() []string {
	out := make([]string, 0, len(s.entities))
	for name := range s.entities {
		out = append(out, name)
	}
	return out
}
