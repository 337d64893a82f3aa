// Package graphsync mirrors the concept graph into an external graph database.
package graphsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/model"
)

// Batch is what one successful document added to the graph store
type Batch struct {
	DocumentID string
	Title      string
	Year       int
	Nodes      []model.ConceptNode     // newly admitted nodes
	Mentions   []string                // every concept id the document proposed
	Relations  []model.ConceptRelation // newly admitted relations
}

// Sink receives graph additions after each merge
type Sink interface {
	Sync(ctx context.Context, b Batch) error
	Close(ctx context.Context) error
}

// Nop discards every batch
type Nop struct{}

func (Nop) Sync(context.Context, Batch) error { return nil }
func (Nop) Close(context.Context) error { return nil }

// Neo4jSink upserts concepts, documents and relations with MERGE
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
	schemaOK bool
}

// NewNeo4jSink connects to Neo4j. An empty URI returns (nil, nil): mirroring is off.
func NewNeo4jSink(ctx context.Context, cfg model.Neo4jConfig, log *logger.Logger) (*Neo4jSink, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, nil
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Neo4jSink{
		driver:   driver,
		database: cfg.Database,
		log:      log.With("component", "graphsync"),
	}, nil
}

// Close releases the driver
func (s *Neo4jSink) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	return err
}

const (
	upsertDocument = `
MERGE (d:Document {id: $id})
SET d.title = $title, d.year = $year, d.synced_at = $synced_at
`
	upsertConcepts = `
UNWIND $nodes AS n
MERGE (c:Concept {id: n.id})
ON CREATE SET c.group = n.group, c.weight = n.weight, c.description = n.description
SET c.synced_at = n.synced_at
`
	upsertMentions = `
UNWIND $ids AS cid
MATCH (c:Concept {id: cid})
MATCH (d:Document {id: $doc})
MERGE (d)-[:MENTIONS]->(c)
`
	upsertRelations = `
UNWIND $rels AS r
MATCH (a:Concept {id: r.source})
MATCH (b:Concept {id: r.target})
MERGE (a)-[e:RELATED_TO {id: r.id}]->(b)
SET e.strength = r.strength, e.document_id = r.document_id, e.synced_at = r.synced_at
`
)

// Sync mirrors one document's graph additions. Relations are parallel edges,
// each keyed by its own id, matching the in-memory store.
func (s *Neo4jSink) Sync(ctx context.Context, b Batch) error {
	if s == nil || s.driver == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	p := buildParams(b, now)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer func() { _ = session.Close(ctx) }()

	if !s.schemaOK {
		s.ensureSchema(ctx, session)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			query  string
			params map[string]any
			skip   bool
		}{
			{upsertDocument, p.document, false},
			{upsertConcepts, map[string]any{"nodes": p.nodes}, len(p.nodes) == 0},
			{upsertMentions, map[string]any{"ids": p.mentions, "doc": b.DocumentID}, len(p.mentions) == 0},
			{upsertRelations, map[string]any{"rels": p.relations}, len(p.relations) == 0},
		}
		for _, st := range steps {
			if st.skip {
				continue
			}
			res, err := tx.Run(ctx, st.query, st.params)
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
		return fmt.Errorf("neo4j sync %s: %w", b.DocumentID, err)
	}
	s.log.Debug("graph mirrored", "document_id", b.DocumentID, "nodes", len(p.nodes), "relations", len(p.relations))
	return nil
}

func (s *Neo4jSink) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	stmts := []string{
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			return
		}
		_, _ = res.Consume(ctx)
	}
	s.schemaOK = true
}

type params struct {
	document  map[string]any
	nodes     []map[string]any
	mentions  []string
	relations []map[string]any
}

func buildParams(b Batch, now string) params {
	p := params{
		document: map[string]any{
			"id":        b.DocumentID,
			"title":     b.Title,
			"year":      b.Year,
			"synced_at": now,
		},
		nodes:     make([]map[string]any, 0, len(b.Nodes)),
		relations: make([]map[string]any, 0, len(b.Relations)),
	}
	for _, n := range b.Nodes {
		p.nodes = append(p.nodes, map[string]any{
			"id":          n.ID,
			"group":       n.Group,
			"weight":      n.Weight,
			"description": n.Description,
			"synced_at":   now,
		})
	}
	seen := make(map[string]bool, len(b.Mentions))
	for _, id := range b.Mentions {
		if id != "" && !seen[id] {
			seen[id] = true
			p.mentions = append(p.mentions, id)
		}
	}
	for _, r := range b.Relations {
		p.relations = append(p.relations, map[string]any{
			"id":          uuid.NewString(),
			"source":      r.Source,
			"target":      r.Target,
			"strength":    r.Strength,
			"document_id": b.DocumentID,
			"synced_at":   now,
		})
	}
	return p
}
