// Package graph implements the cross-record relationship graph (C3): one
// node per record, edges for shared organization/location/event/contact
// signals, degree centrality, greedy clustering, and the disambiguation
// signal consulted by the pipeline for every scored candidate pair.
package graph

import (
	"sort"
	"strings"

	"github.com/entitymesh/resolve/internal/model"
)

const (
	sharedOrgWeight  = 0.8
	sharedLocWeight  = 0.6
	sharedEventHit   = 0.3
	contactEmailHit  = 0.4
	contactPhoneHit  = 0.3
	clusteringThreshold = 0.6
	locationSimilarityThreshold = 0.8
)

var organizationFields = []string{"organization", "company", "affiliation", "key_people"}
var locationFields = []string{"address", "location", "venue", "place"}
var eventTextFields = []string{"description", "notes", "people_involved", "tagged_entities"}

// Analyzer builds and queries the relationship graph over one analysis run.
// It is not safe for concurrent Build calls; read-only queries after Build
// (Centrality, Clusters, Disambiguate) may run concurrently with each other.
type Analyzer struct {
	nodes map[string]*model.GraphNode
	edges []model.Edge
}

// New returns an empty Analyzer.
func New() *Analyzer {
	return &Analyzer{nodes: map[string]*model.GraphNode{}}
}

// CollectionRecords pairs a collection name with its records, the unit Build
// consumes.
type CollectionRecords struct {
	Collection string
	Records    []model.Record
	EntityType model.EntityType
}

// Build replaces the analyzer's graph with one constructed from collections:
// one node per record (entity_id = "{collection}:{record_id}"), then edges
// for every relation kind found between every pair of nodes.
func (a *Analyzer) Build(collections []CollectionRecords) {
	a.nodes = map[string]*model.GraphNode{}
	a.edges = nil

	for _, coll := range collections {
		for _, rec := range coll.Records {
			id := coll.Collection + ":" + rec.ID
			a.nodes[id] = &model.GraphNode{
				EntityID:     id,
				EntityType:   coll.EntityType,
				Data:         rec,
				Neighbors:    map[string]struct{}{},
				EdgeStrength: map[string]float64{},
			}
		}
	}

	ids := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i, idA := range ids {
		nodeA := a.nodes[idA]
		for _, idB := range ids[i+1:] {
			nodeB := a.nodes[idB]
			for _, edge := range findRelationships(nodeA, nodeB) {
				a.edges = append(a.edges, edge)
				nodeA.Neighbors[idB] = struct{}{}
				nodeB.Neighbors[idA] = struct{}{}
				nodeA.EdgeStrength[idB] = edge.Strength
				nodeB.EdgeStrength[idA] = edge.Strength
			}
		}
	}

	a.computeCentrality()
}

func findRelationships(a, b *model.GraphNode) []model.Edge {
	var edges []model.Edge
	if e, ok := sharedOrganization(a, b); ok {
		edges = append(edges, e)
	}
	if e, ok := sharedLocation(a, b); ok {
		edges = append(edges, e)
	}
	if e, ok := sharedEvent(a, b); ok {
		edges = append(edges, e)
	}
	if e, ok := sharedContact(a, b); ok {
		edges = append(edges, e)
	}
	return edges
}

func fieldVal(r model.Record, field string) string {
	return strings.ToLower(strings.TrimSpace(r.String(field)))
}

func sharedOrganization(a, b *model.GraphNode) (model.Edge, bool) {
	var evidence []string
	var matches int
	for _, field := range organizationFields {
		va, vb := fieldVal(a.Data, field), fieldVal(b.Data, field)
		if va != "" && vb != "" && va == vb {
			evidence = append(evidence, "shared "+field+": "+va)
			matches++
		}
	}
	if matches == 0 {
		return model.Edge{}, false
	}
	strength := min1(sharedOrgWeight * float64(matches) / float64(len(organizationFields)))
	return model.Edge{
		SourceID: a.EntityID, TargetID: b.EntityID,
		Relation: model.SharedOrganization, Strength: strength,
		Confidence: min1(float64(matches) * 0.3), Evidence: evidence,
	}, true
}

func sharedLocation(a, b *model.GraphNode) (model.Edge, bool) {
	var evidence []string
	var matches float64
	for _, field := range locationFields {
		va, vb := fieldVal(a.Data, field), fieldVal(b.Data, field)
		if va == "" || vb == "" {
			continue
		}
		if va == vb {
			evidence = append(evidence, "same "+field+": "+va)
			matches++
		} else if tokenJaccard(va, vb) > locationSimilarityThreshold {
			evidence = append(evidence, "similar "+field+": "+va+" / "+vb)
			matches += 0.5
		}
	}
	if matches == 0 {
		return model.Edge{}, false
	}
	return model.Edge{
		SourceID: a.EntityID, TargetID: b.EntityID,
		Relation: model.SharedLocation, Strength: min1(matches * sharedLocWeight),
		Confidence: min1(matches * 0.4), Evidence: evidence,
	}, true
}

func tokenJaccard(a, b string) float64 {
	setA := strings.Fields(a)
	setB := strings.Fields(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	seen := map[string]struct{}{}
	for _, t := range setA {
		seen[t] = struct{}{}
	}
	inter := 0
	union := map[string]struct{}{}
	for k := range seen {
		union[k] = struct{}{}
	}
	for _, t := range setB {
		union[t] = struct{}{}
		if _, ok := seen[t]; ok {
			inter++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func sharedEvent(a, b *model.GraphNode) (model.Edge, bool) {
	nameA := fieldVal(a.Data, "name")
	nameB := fieldVal(b.Data, "name")

	var evidence []string
	var strength float64

	for _, field := range eventTextFields {
		textB := fieldVal(b.Data, field)
		if nameA != "" && strings.Contains(textB, nameA) {
			evidence = append(evidence, "entity A mentioned in entity B's "+field)
			strength += sharedEventHit
		}
	}
	for _, field := range eventTextFields {
		textA := fieldVal(a.Data, field)
		if nameB != "" && strings.Contains(textA, nameB) {
			evidence = append(evidence, "entity B mentioned in entity A's "+field)
			strength += sharedEventHit
		}
	}

	if len(evidence) == 0 {
		return model.Edge{}, false
	}
	return model.Edge{
		SourceID: a.EntityID, TargetID: b.EntityID,
		Relation: model.SharedEvent, Strength: min1(strength),
		Confidence: min1(float64(len(evidence)) * 0.3), Evidence: evidence,
	}, true
}

func sharedContact(a, b *model.GraphNode) (model.Edge, bool) {
	var evidence []string
	var strength float64

	emailA, emailB := fieldVal(a.Data, "email"), fieldVal(b.Data, "email")
	if domainOf(emailA) != "" && domainOf(emailA) == domainOf(emailB) {
		evidence = append(evidence, "shared email domain: "+domainOf(emailA))
		strength += contactEmailHit
	}

	phoneA, phoneB := digitsOnly(a.Data.String("phone")), digitsOnly(b.Data.String("phone"))
	if phoneSuffixMatch(phoneA, phoneB) {
		evidence = append(evidence, "similar phone numbers")
		strength += contactPhoneHit
	}

	if len(evidence) == 0 {
		return model.Edge{}, false
	}
	return model.Edge{
		SourceID: a.EntityID, TargetID: b.EntityID,
		Relation: model.SharedContact, Strength: min1(strength),
		Confidence: min1(float64(len(evidence)) * 0.4), Evidence: evidence,
	}, true
}

func domainOf(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return ""
	}
	return email[idx+1:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func phoneSuffixMatch(a, b string) bool {
	if len(a) < 6 || len(b) < 6 {
		return false
	}
	suffix := func(s string) string {
		if len(s) >= 7 {
			return s[len(s)-7:]
		}
		return s
	}
	return suffix(a) == suffix(b)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// computeCentrality sets each node's degree centrality, normalized by the
// maximum degree in the graph.
func (a *Analyzer) computeCentrality() {
	var maxDegree int
	for _, node := range a.nodes {
		if d := len(node.Neighbors); d > maxDegree {
			maxDegree = d
		}
	}
	if maxDegree == 0 {
		return
	}
	for _, node := range a.nodes {
		node.Centrality = float64(len(node.Neighbors)) / float64(maxDegree)
	}
}

// Node returns the node for id, or nil if it was never built.
func (a *Analyzer) Node(id string) *model.GraphNode {
	return a.nodes[id]
}

// Clusters performs a greedy connected-component walk from each unvisited
// node, following edges whose strength is at least clusteringThreshold.
// Clusters of size 1 are discarded. Assigns ClusterID on every node it
// places in a returned cluster.
func (a *Analyzer) Clusters() [][]string {
	visited := map[string]bool{}
	var clusters [][]string

	ids := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var nextID uint64
	for _, id := range ids {
		if visited[id] {
			continue
		}
		cluster := a.buildCluster(id, visited)
		if len(cluster) > 1 {
			clusterID := nextID
			for _, memberID := range cluster {
				a.nodes[memberID].ClusterID = &clusterID
			}
			clusters = append(clusters, cluster)
			nextID++
		}
	}
	return clusters
}

func (a *Analyzer) buildCluster(start string, visited map[string]bool) []string {
	var cluster []string
	stack := []string{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		cluster = append(cluster, current)

		node := a.nodes[current]
		neighborIDs := make([]string, 0, len(node.Neighbors))
		for n := range node.Neighbors {
			neighborIDs = append(neighborIDs, n)
		}
		sort.Strings(neighborIDs)
		for _, n := range neighborIDs {
			if !visited[n] && node.EdgeStrength[n] >= clusteringThreshold {
				stack = append(stack, n)
			}
		}
	}
	return cluster
}

// Disambiguate computes the contextual disambiguation signal for (a,b) per
// §4.3: direct-edge strength × 0.4, plus mean shared-neighbor min-strength ×
// 0.3, plus 0.2 if the two nodes' centralities differ by less than 0.2.
// Emitted only if the total contribution exceeds 0.1; missing nodes never
// error, they simply yield no signal.
func (a *Analyzer) Disambiguate(idA, idB string) *model.GraphSignal {
	nodeA, okA := a.nodes[idA]
	nodeB, okB := a.nodes[idB]
	if !okA || !okB {
		return nil
	}

	var confidence float64
	var evidence []string

	if direct := a.directEdge(idA, idB); direct != nil {
		confidence += direct.Strength * 0.4
		evidence = append(evidence, "direct "+string(direct.Relation)+" relationship")
	}

	shared := sharedNeighbors(nodeA, nodeB)
	if len(shared) > 0 {
		var sum float64
		for _, n := range shared {
			sum += minOf(nodeA.EdgeStrength[n], nodeB.EdgeStrength[n])
		}
		confidence += (sum / float64(len(shared))) * 0.3
		evidence = append(evidence, "shared connections")
	}

	if absDiff(nodeA.Centrality, nodeB.Centrality) < 0.2 {
		confidence += 0.2
		evidence = append(evidence, "similar network centrality")
	}

	if confidence <= 0.1 {
		return nil
	}
	return &model.GraphSignal{Confidence: min1(confidence), Evidence: evidence}
}

func (a *Analyzer) directEdge(idA, idB string) *model.Edge {
	for i := range a.edges {
		e := &a.edges[i]
		if (e.SourceID == idA && e.TargetID == idB) || (e.SourceID == idB && e.TargetID == idA) {
			return e
		}
	}
	return nil
}

func sharedNeighbors(a, b *model.GraphNode) []string {
	var out []string
	for n := range a.Neighbors {
		if _, ok := b.Neighbors[n]; ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
