package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entitymesh/resolve/internal/model"
)

func rec(id string, attrs map[string]string) model.Record {
	vals := make(map[string]model.Value, len(attrs))
	for k, v := range attrs {
		vals[k] = model.StringValue(v)
	}
	return model.NewRecord(id, vals)
}

func TestBuildAssignsNamespacedEntityIDs(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{rec("1", map[string]string{"name": "Jo"})}},
	})
	assert.NotNil(t, a.Node("people:1"))
}

func TestSharedOrganizationEdge(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"organization": "Acme Ltd"}),
			rec("2", map[string]string{"organization": "Acme Ltd"}),
		}},
	})
	nodeA := a.Node("people:1")
	assert.Contains(t, nodeA.Neighbors, "people:2")
	assert.Greater(t, nodeA.EdgeStrength["people:2"], 0.0)
}

func TestSharedEventMention(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"name": "Jane Doe"}),
			rec("2", map[string]string{"name": "Other", "notes": "met with jane doe yesterday"}),
		}},
	})
	nodeA := a.Node("people:1")
	assert.Contains(t, nodeA.Neighbors, "people:2")
}

func TestCentralityNormalizedByMaxDegree(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"organization": "Acme"}),
			rec("2", map[string]string{"organization": "Acme"}),
			rec("3", map[string]string{"organization": "Acme"}),
		}},
	})
	assert.Equal(t, 1.0, a.Node("people:1").Centrality)
}

// An exact shared location gives strength 1 × 0.6, which meets the 0.6
// clustering threshold; record 3 shares nothing and stays a singleton.
func TestClustersDiscardSingletons(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"location": "Town Hall"}),
			rec("2", map[string]string{"location": "Town Hall"}),
			rec("3", map[string]string{"location": "Harbour"}),
		}},
	})
	clusters := a.Clusters()
	assert.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"people:1", "people:2"}, clusters[0])
}

func TestDisambiguateReturnsNilForMissingNode(t *testing.T) {
	a := New()
	a.Build(nil)
	assert.Nil(t, a.Disambiguate("x:1", "x:2"))
}

func TestDisambiguateDirectRelationshipContribution(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"organization": "Acme"}),
			rec("2", map[string]string{"organization": "Acme"}),
		}},
	})
	signal := a.Disambiguate("people:1", "people:2")
	assert.NotNil(t, signal)
	assert.Greater(t, signal.Confidence, 0.0)
}

// people:1 has no edges (centrality 0) while people:2 has the graph's only
// edge (centrality 1): no direct edge, no shared neighbors, and no
// centrality bonus, so the contribution is 0.
func TestDisambiguateBelowThresholdYieldsNil(t *testing.T) {
	a := New()
	a.Build([]CollectionRecords{
		{Collection: "people", EntityType: model.Person, Records: []model.Record{
			rec("1", map[string]string{"name": "A"}),
			rec("2", map[string]string{"name": "B", "organization": "Acme"}),
			rec("3", map[string]string{"organization": "Acme"}),
		}},
	})
	assert.Nil(t, a.Disambiguate("people:1", "people:2"))
}
