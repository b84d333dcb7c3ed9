// Package neo4j implements graph.Lineage on Neo4j.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/sage/internal/chunker"
	"github.com/efebarandurmaz/sage/internal/graph"
)

// LineageStore implements graph.Lineage using Neo4j.
type LineageStore struct {
	driver neo4j.DriverWithContext
}

var _ graph.Lineage = (*LineageStore)(nil)

// New connects to a Neo4j instance and verifies connectivity.
func New(ctx context.Context, uri, username, password string) (*LineageStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &LineageStore{driver: driver}, nil
}

// StoreLineage writes Document and Chunk nodes with HAS_CHUNK and CHILD_OF
// edges. All statements use MERGE, so re-ingesting is idempotent.
func (s *LineageStore) StoreLineage(ctx context.Context, docs []chunker.Document, chunks map[int][]chunker.Chunk) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, d := range docs {
			_, err := tx.Run(ctx,
				"MERGE (d:Document {id: $id}) SET d.source = $source, d.subject = $subject, d.file_path = $path",
				map[string]any{"id": d.DocID, "source": d.Source, "subject": d.Subject, "path": d.FilePath})
			if err != nil {
				return nil, err
			}
		}

		for level, set := range chunks {
			for _, c := range set {
				_, err := tx.Run(ctx,
					"MERGE (c:Chunk {id: $id}) SET c.level = $level, c.seq = $seq "+
						"MERGE (d:Document {id: $doc}) "+
						"MERGE (d)-[:HAS_CHUNK]->(c)",
					map[string]any{"id": c.ID, "level": level, "seq": c.Index, "doc": c.DocID})
				if err != nil {
					return nil, err
				}
				if c.ParentChunkID != "" {
					_, err := tx.Run(ctx,
						"MERGE (c:Chunk {id: $id}) "+
							"MERGE (p:Chunk {id: $parent}) "+
							"MERGE (c)-[:CHILD_OF]->(p)",
						map[string]any{"id": c.ID, "parent": c.ParentChunkID})
					if err != nil {
						return nil, err
					}
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store lineage: %w", err)
	}
	return nil
}

// DeleteDocument removes the document node and every chunk hanging off it.
func (s *LineageStore) DeleteDocument(ctx context.Context, docID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (d:Document {id: $id}) "+
				"OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk) "+
				"DETACH DELETE c, d",
			map[string]any{"id": docID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}

// Children returns the IDs of chunks directly nested under a chunk.
func (s *LineageStore) Children(ctx context.Context, chunkID string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (child:Chunk)-[:CHILD_OF]->(:Chunk {id: $id}) RETURN child.id ORDER BY child.id",
			map[string]any{"id": chunkID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for records.Next(ctx) {
			id, _ := records.Record().Get("child.id")
			ids = append(ids, id.(string))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Close shuts down the driver.
func (s *LineageStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
