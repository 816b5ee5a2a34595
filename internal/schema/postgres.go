package schema

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PostgresStore serves definitions from a schema_definitions table with
// JSONB payloads. The pipeline only loads; the schema CLI applies
// definitions through the upsert methods.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgres connects a schema store to Postgres.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "schema: parse postgres config")
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "schema: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "schema: ping postgres")
	}
	return &PostgresStore{pool: pool, log: zap.L().Named("schema.postgres")}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS schema_definitions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK (kind IN ('registry', 'entity')),
    code TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'active',
    definition JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (kind, code)
);

CREATE INDEX IF NOT EXISTS idx_schema_definitions_status ON schema_definitions(status);
`

// Migrate creates the definitions table when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "schema: migrate")
	}
	return nil
}

// Load reads every stored definition.
func (s *PostgresStore) Load(ctx context.Context) (*Bundle, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, code, definition FROM schema_definitions ORDER BY kind, code`)
	if err != nil {
		return nil, eris.Wrap(err, "schema: query definitions")
	}
	defer rows.Close()

	bundle := &Bundle{}
	for rows.Next() {
		var kind, code string
		var raw []byte
		if err := rows.Scan(&kind, &code, &raw); err != nil {
			return nil, eris.Wrap(err, "schema: scan definition")
		}
		switch kind {
		case "registry":
			var def RegistryDefinition
			if err := json.Unmarshal(raw, &def); err != nil {
				return nil, eris.Wrapf(err, "schema: decode registry definition %s", code)
			}
			bundle.Registries = append(bundle.Registries, &def)
		case "entity":
			var def EntityDefinition
			if err := json.Unmarshal(raw, &def); err != nil {
				return nil, eris.Wrapf(err, "schema: decode entity definition %s", code)
			}
			bundle.Entities = append(bundle.Entities, &def)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "schema: iterate definitions")
	}
	return bundle, nil
}

// ApplyRegistry upserts a registry definition keyed by its classification
// codes.
func (s *PostgresStore) ApplyRegistry(ctx context.Context, def *RegistryDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return eris.Wrap(err, "schema: encode registry definition")
	}
	code := registryDefinitionCode(def)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO schema_definitions (id, kind, code, version, status, definition, updated_at)
		VALUES ($1, 'registry', $2, $3, $4, $5, now())
		ON CONFLICT (kind, code) DO UPDATE
		SET version = EXCLUDED.version, status = EXCLUDED.status,
		    definition = EXCLUDED.definition, updated_at = now()`,
		uuid.New().String(), code, def.Version, string(def.Status), raw)
	if err != nil {
		return eris.Wrapf(err, "schema: apply registry definition %s", code)
	}
	s.log.Info("applied registry definition",
		zap.String("code", code),
		zap.Int("version", def.Version),
		zap.String("status", string(def.Status)))
	return nil
}

// ApplyEntity upserts an entity definition keyed by entity type.
func (s *PostgresStore) ApplyEntity(ctx context.Context, def *EntityDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return eris.Wrap(err, "schema: encode entity definition")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO schema_definitions (id, kind, code, version, status, definition, updated_at)
		VALUES ($1, 'entity', $2, $3, $4, $5, now())
		ON CONFLICT (kind, code) DO UPDATE
		SET version = EXCLUDED.version, status = EXCLUDED.status,
		    definition = EXCLUDED.definition, updated_at = now()`,
		uuid.New().String(), def.Entity, def.Version, string(def.Status), raw)
	if err != nil {
		return eris.Wrapf(err, "schema: apply entity definition %s", def.Entity)
	}
	s.log.Info("applied entity definition",
		zap.String("entity", def.Entity),
		zap.Int("version", def.Version),
		zap.String("status", string(def.Status)))
	return nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "schema: ping")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func registryDefinitionCode(def *RegistryDefinition) string {
	parts := []string{def.RegistryCode}
	if def.ServiceCode != "" {
		parts = append(parts, def.ServiceCode)
	}
	if def.MethodCode != "" {
		parts = append(parts, def.MethodCode)
	}
	return strings.Join(parts, "/")
}
