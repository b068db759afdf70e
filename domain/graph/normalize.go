package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Default values applied to nodes before they are persisted or returned.
//
//	bibl        []        (absent or null)
//	type        null
//	info        null
//	path        null
//	imageWidth  null      (numbers and CSS strings kept verbatim)
//	imageHeight null
//	position    {x:0, y:0}
//	visible     true
//
// Edges without an id get "<source>_<target>".

// NormalizeNode fills node defaults. It is idempotent.
func NormalizeNode(n Node) Node {
	out := n.clone()
	if out.Bibl == nil {
		out.Bibl = []string{}
	}
	if out.Position == nil {
		out.Position = &Position{X: 0, Y: 0}
	}
	if out.Visible == nil {
		visible := true
		out.Visible = &visible
	}
	return out
}

// NormalizeEdge derives a missing id and keeps label, type and info
func NormalizeEdge(e Edge) Edge {
	out := e.clone()
	if out.ID == "" {
		out.ID = EdgeID(out.Source, out.Target)
	}
	return out
}

// TrimEdge reduces an edge to its canonical {id, source, target} shape
func TrimEdge(e Edge) Edge {
	id := e.ID
	if id == "" {
		id = EdgeID(e.Source, e.Target)
	}
	return Edge{ID: id, Source: e.Source, Target: e.Target}
}

// EdgeID builds the derived identifier of an edge
func EdgeID(source, target string) string {
	return source + "_" + target
}

// NormalizeForSave returns a copy of doc ready to be written as a snapshot
func NormalizeForSave(doc *Document) *Document {
	out := doc.Clone()
	out.Nodes = normalizeNodes(out.Nodes)

	edges := make([]Edge, len(out.Edges))
	for i, e := range out.Edges {
		edges[i] = NormalizeEdge(e)
	}
	out.Edges = edges
	return out
}

// NormalizeForFetch returns a copy of doc as served by the current-graph read
func NormalizeForFetch(doc *Document) *Document {
	out := doc.Clone()
	out.Nodes = normalizeNodes(out.Nodes)

	edges := make([]Edge, len(out.Edges))
	for i, e := range out.Edges {
		edges[i] = TrimEdge(e)
	}
	out.Edges = edges
	return out
}

func normalizeNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = NormalizeNode(n)
	}
	return out
}

// Validate checks the structural rules a document must satisfy before save
func (d *Document) Validate() error {
	if len(d.missing) > 0 {
		return fmt.Errorf("graphData must contain %s", strings.Join(d.missing, ", "))
	}

	seen := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("nodes[%d]: duplicate node id %q", i, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for i, e := range d.Edges {
		if e.Source == "" || e.Target == "" {
			return fmt.Errorf("edges[%d]: source and target are required", i)
		}
	}
	return nil
}

// Encode serializes a document for storage
func Encode(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph document: %w", err)
	}
	return data, nil
}

// Checksum is the hex SHA-256 of the encoded document
func Checksum(doc *Document) (string, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
