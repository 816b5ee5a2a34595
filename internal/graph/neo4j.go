package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Neo4jConfig carries connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI         string
	Username    string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// Neo4jStore persists the graph in Neo4j. Nodes merge on the id property
// under a per-label uniqueness constraint; edges merge on the key property.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	db     string
	log    *zap.Logger
}

// Labels and relationship types interpolate into Cypher because they cannot
// be parameters. Only plain identifiers are allowed through.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewNeo4j connects and verifies connectivity before returning.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, eris.New("graph: neo4j uri is empty")
	}
	pool := cfg.MaxPoolSize
	if pool <= 0 {
		pool = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = pool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: init neo4j driver")
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graph: verify neo4j connectivity")
	}
	return &Neo4jStore{
		driver: driver,
		db:     cfg.Database,
		log:    zap.L().Named("graph.neo4j"),
	}, nil
}

// EnsureSchema creates per-label id uniqueness constraints. Failures are
// logged and skipped; a missing constraint degrades merge performance, it
// does not change semantics.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, labels []string) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.db,
	})
	defer session.Close(ctx)
	for _, label := range labels {
		if !identRe.MatchString(label) {
			s.log.Warn("skipping constraint for unsafe label", zap.String("label", label))
			continue
		}
		q := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(label), label,
		)
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			s.log.Warn("constraint init failed", zap.String("label", label), zap.Error(err))
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// FetchNodes reads current state for ids under one label.
func (s *Neo4jStore) FetchNodes(ctx context.Context, label string, ids []string) (map[string][]*Node, error) {
	out := make(map[string][]*Node, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, err := fetchQuery(label)
	if err != nil {
		return nil, err
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.db,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			idVal, _ := rec.Get("id")
			propsVal, _ := rec.Get("props")
			id, _ := idVal.(string)
			if id == "" {
				continue
			}
			props, _ := propsVal.(map[string]any)
			out[id] = append(out[id], &Node{ID: id, Label: label, Properties: props})
		}
		return nil, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "graph: fetch %s nodes", label)
	}
	return out, nil
}

// UpsertNodes merges nodes grouped per label in one write transaction.
func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes []*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	groups, order, err := groupNodes(nodes)
	if err != nil {
		return err
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.db,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, label := range order {
			res, err := tx.Run(ctx, nodeUpsertQuery(label), map[string]any{"rows": groups[label]})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return eris.Wrap(err, "graph: upsert nodes")
	}
	return nil
}

// UpsertRelationships merges edges grouped per (type, endpoint labels) in one
// write transaction. Endpoints are matched, never created: nodes always
// upsert before their edges.
func (s *Neo4jStore) UpsertRelationships(ctx context.Context, rels []*Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	groups, order, err := groupRels(rels)
	if err != nil {
		return err
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.db,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, g := range order {
			res, err := tx.Run(ctx, relUpsertQuery(g), map[string]any{"rows": groups[g]})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return eris.Wrap(err, "graph: upsert relationships")
	}
	return nil
}

// Ping verifies connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return eris.Wrap(err, "graph: neo4j ping")
	}
	return nil
}

// Close releases the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func fetchQuery(label string) (string, error) {
	if !identRe.MatchString(label) {
		return "", eris.Errorf("graph: unsafe label %q", label)
	}
	return fmt.Sprintf(
		"MATCH (n:%s) WHERE n.id IN $ids RETURN n.id AS id, properties(n) AS props",
		label,
	), nil
}

func nodeUpsertQuery(label string) string {
	return fmt.Sprintf(
		"UNWIND $rows AS row\nMERGE (n:%s {id: row.id})\nSET n += row.props",
		label,
	)
}

type relGroup struct {
	relType   string
	fromLabel string
	toLabel   string
}

func relUpsertQuery(g relGroup) string {
	return fmt.Sprintf(
		"UNWIND $rows AS row\nMATCH (a:%s {id: row.from_id})\nMATCH (b:%s {id: row.to_id})\nMERGE (a)-[r:%s {key: row.key}]->(b)\nSET r += row.props",
		g.fromLabel, g.toLabel, g.relType,
	)
}

func groupNodes(nodes []*Node) (map[string][]map[string]any, []string, error) {
	groups := make(map[string][]map[string]any)
	var order []string
	for _, n := range nodes {
		if !identRe.MatchString(n.Label) {
			return nil, nil, eris.Errorf("graph: unsafe label %q", n.Label)
		}
		if _, seen := groups[n.Label]; !seen {
			order = append(order, n.Label)
		}
		props := n.Properties
		if props == nil {
			props = map[string]any{}
		}
		groups[n.Label] = append(groups[n.Label], map[string]any{"id": n.ID, "props": props})
	}
	return groups, order, nil
}

func groupRels(rels []*Relationship) (map[relGroup][]map[string]any, []relGroup, error) {
	groups := make(map[relGroup][]map[string]any)
	var order []relGroup
	for _, r := range rels {
		for _, ident := range []string{r.Type, r.FromLabel, r.ToLabel} {
			if !identRe.MatchString(ident) {
				return nil, nil, eris.Errorf("graph: unsafe identifier %q", ident)
			}
		}
		g := relGroup{relType: r.Type, fromLabel: r.FromLabel, toLabel: r.ToLabel}
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		props := r.Properties
		if props == nil {
			props = map[string]any{}
		}
		groups[g] = append(groups[g], map[string]any{
			"from_id": r.FromID,
			"to_id":   r.ToID,
			"key":     r.Key,
			"props":   props,
		})
	}
	return groups, order, nil
}
