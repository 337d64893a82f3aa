package graphsync

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/model"
)

func sampleBatch() Batch {
	return Batch{
		DocumentID: "doc-1",
		Title:      "Attention Is All You Need",
		Year:       2017,
		Nodes: []model.ConceptNode{
			{ID: "Transformer", Group: 1, Weight: 25, Description: "attention-only model"},
		},
		Mentions: []string{"Transformer", "Attention", "Transformer", ""},
		Relations: []model.ConceptRelation{
			{Source: "Transformer", Target: "Attention", Strength: 8},
			{Source: "Transformer", Target: "Attention", Strength: 3},
		},
	}
}

func TestBuildParams(t *testing.T) {
	p := buildParams(sampleBatch(), "2024-01-01T00:00:00Z")

	assert.Equal(t, "doc-1", p.document["id"])
	assert.Equal(t, 2017, p.document["year"])

	require.Len(t, p.nodes, 1)
	assert.Equal(t, "Transformer", p.nodes[0]["id"])
	assert.Equal(t, 25.0, p.nodes[0]["weight"])

	assert.Equal(t, []string{"Transformer", "Attention"}, p.mentions)

	require.Len(t, p.relations, 2)
	assert.NotEqual(t, p.relations[0]["id"], p.relations[1]["id"], "parallel relations keep distinct ids")
	assert.Equal(t, "doc-1", p.relations[1]["document_id"])
}

func TestNewNeo4jSink_DisabledWithoutURI(t *testing.T) {
	sink, err := NewNeo4jSink(context.Background(), model.Neo4jConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, sink)

	// a nil sink is safe to call
	assert.NoError(t, sink.Sync(context.Background(), sampleBatch()))
	assert.NoError(t, sink.Close(context.Background()))
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Sync(context.Background(), sampleBatch()))
	assert.NoError(t, s.Close(context.Background()))
}

func TestNeo4jSink_Live(t *testing.T) {
	uri := os.Getenv("DECIPHER_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("DECIPHER_TEST_NEO4J_URI not set")
	}
	ctx := context.Background()

	sink, err := NewNeo4jSink(ctx, model.Neo4jConfig{
		URI:      uri,
		User:     os.Getenv("DECIPHER_TEST_NEO4J_USER"),
		Password: os.Getenv("DECIPHER_TEST_NEO4J_PASSWORD"),
	}, logger.Nop())
	require.NoError(t, err)
	defer func() { _ = sink.Close(ctx) }()

	b := sampleBatch()
	b.Nodes = append(b.Nodes, model.ConceptNode{ID: "Attention", Group: 2, Weight: 20})
	require.NoError(t, sink.Sync(ctx, b))
}
