package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxVersion bounds metadata.version; larger values are rejected rather
// than wrapped
const maxVersion = math.MaxInt32

// Document is a full knowledge graph as clients send and receive it
type Document struct {
	ID       string   `json:"id,omitempty"`
	Metadata Metadata `json:"metadata"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`

	// top-level keys absent from the decoded JSON
	missing []string
}

var requiredDocumentKeys = []string{"metadata", "nodes", "edges"}

// UnmarshalJSON decodes the document and records which of metadata, nodes
// and edges were absent. A null metadata counts as absent; null nodes or
// edges are empty lists.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("graphData must be an object: %w", err)
	}

	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Document(p)

	for _, key := range requiredDocumentKeys {
		v, ok := raw[key]
		if !ok || (key == "metadata" && string(bytes.TrimSpace(v)) == "null") {
			d.missing = append(d.missing, key)
		}
	}
	return nil
}

// Position is a 2D canvas coordinate
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single knowledge unit. Optional attributes are pointers so that
// absent and null values can be told apart before normalization.
type Node struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Color       string    `json:"color"`
	Type        *string   `json:"type"`
	Info        *string   `json:"info"`
	Bibl        []string  `json:"bibl"`
	Position    *Position `json:"position"`
	ImageWidth  Dimension `json:"imageWidth"`
	ImageHeight Dimension `json:"imageHeight"`
	Visible     *bool     `json:"visible"`
	Path        *string   `json:"path"`
}

// Dimension is an image size exactly as the client sent it: a JSON number
// of pixels or a CSS length string such as "100%". The zero value is null.
type Dimension json.RawMessage

// NumberDimension returns a pixel dimension
func NumberDimension(px float64) Dimension {
	return Dimension(strconv.FormatFloat(px, 'f', -1, 64))
}

// TextDimension returns a CSS length dimension
func TextDimension(s string) Dimension {
	data, _ := json.Marshal(s)
	return Dimension(data)
}

// IsZero reports whether the dimension is null
func (d Dimension) IsZero() bool {
	return len(d) == 0
}

// Float returns the pixel value of a numeric dimension
func (d Dimension) Float() (float64, bool) {
	if d.IsZero() || d[0] == '"' {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(d), 64)
	return f, err == nil
}

// Text returns the string value of a CSS length dimension
func (d Dimension) Text() (string, bool) {
	if d.IsZero() || d[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return "", false
	}
	return s, true
}

// MarshalJSON writes the stored value or null
func (d Dimension) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// UnmarshalJSON accepts a number, a string or null
func (d *Dimension) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*d = nil
		return nil
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case string, float64:
		*d = append(Dimension(nil), data...)
		return nil
	default:
		return errors.New("image dimension must be a number or a string")
	}
}

// Edge references two nodes by id. Label, Type and Info are carried through
// save but trimmed when the current graph is fetched.
type Edge struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  *string `json:"label,omitempty"`
	Type   *string `json:"type,omitempty"`
	Info   *string `json:"info,omitempty"`
}

// Summary is the list view of a stored graph
type Summary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata holds the typed graph metadata. Keys other services attach
// (userId, publicEdit, affiliates, ...) are kept in Extra and written back
// unchanged.
type Metadata struct {
	Title       string
	Description string
	CreatedBy   string
	Version     int
	Extra       map[string]json.RawMessage
}

var metadataKnownKeys = map[string]struct{}{
	"title":       {},
	"description": {},
	"createdBy":   {},
	"version":     {},
}

// MarshalJSON writes the typed fields followed by Extra in key order
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value interface{}) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := write("title", m.Title); err != nil {
		return nil, err
	}
	if err := write("description", m.Description); err != nil {
		return nil, err
	}
	if err := write("createdBy", m.CreatedBy); err != nil {
		return nil, err
	}
	if err := write("version", m.Version); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		if _, known := metadataKnownKeys[k]; known {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, m.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the typed fields and keeps every other key in Extra
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metadata{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata must be an object: %w", err)
	}

	out := Metadata{}
	if v, ok := raw["title"]; ok {
		if err := unmarshalOptionalString(v, &out.Title); err != nil {
			return fmt.Errorf("metadata.title: %w", err)
		}
	}
	if v, ok := raw["description"]; ok {
		if err := unmarshalOptionalString(v, &out.Description); err != nil {
			return fmt.Errorf("metadata.description: %w", err)
		}
	}
	if v, ok := raw["createdBy"]; ok {
		if err := unmarshalOptionalString(v, &out.CreatedBy); err != nil {
			return fmt.Errorf("metadata.createdBy: %w", err)
		}
	}
	if v, ok := raw["version"]; ok && string(v) != "null" {
		version, err := parseVersion(v)
		if err != nil {
			return err
		}
		out.Version = version
	}

	for k, v := range raw {
		if _, known := metadataKnownKeys[k]; known {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*m = out
	return nil
}

// parseVersion accepts only whole numbers in [0, maxVersion]. 1.0 is
// accepted as 1; 1.9 is an error, never truncated.
func parseVersion(data json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("metadata.version must be a number: %w", err)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("metadata.version must be an integer, got %s", strings.TrimSpace(string(data)))
	}
	if f < 0 || f > maxVersion {
		return 0, fmt.Errorf("metadata.version %s is out of range", strings.TrimSpace(string(data)))
	}
	return int(f), nil
}

func unmarshalOptionalString(data json.RawMessage, target *string) error {
	if string(data) == "null" {
		*target = ""
		return nil
	}
	return json.Unmarshal(data, target)
}

// Clone returns a deep copy so normalization never mutates caller data
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	out := &Document{
		ID: d.ID,
		Metadata: Metadata{
			Title:       d.Metadata.Title,
			Description: d.Metadata.Description,
			CreatedBy:   d.Metadata.CreatedBy,
			Version:     d.Metadata.Version,
		},
	}
	if d.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]json.RawMessage, len(d.Metadata.Extra))
		for k, v := range d.Metadata.Extra {
			out.Metadata.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}

	if d.Nodes != nil {
		out.Nodes = make([]Node, len(d.Nodes))
		for i, n := range d.Nodes {
			out.Nodes[i] = n.clone()
		}
	}
	if d.Edges != nil {
		out.Edges = make([]Edge, len(d.Edges))
		for i, e := range d.Edges {
			out.Edges[i] = e.clone()
		}
	}
	return out
}

func (n Node) clone() Node {
	out := n
	out.Type = cloneString(n.Type)
	out.Info = cloneString(n.Info)
	out.Path = cloneString(n.Path)
	if n.Bibl != nil {
		out.Bibl = append([]string(nil), n.Bibl...)
	}
	if n.Position != nil {
		p := *n.Position
		out.Position = &p
	}
	if n.ImageWidth != nil {
		out.ImageWidth = append(Dimension(nil), n.ImageWidth...)
	}
	if n.ImageHeight != nil {
		out.ImageHeight = append(Dimension(nil), n.ImageHeight...)
	}
	if n.Visible != nil {
		v := *n.Visible
		out.Visible = &v
	}
	return out
}

func (e Edge) clone() Edge {
	out := e
	out.Label = cloneString(e.Label)
	out.Type = cloneString(e.Type)
	out.Info = cloneString(e.Info)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
