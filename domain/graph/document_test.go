package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_PreservesUnknownKeys(t *testing.T) {
	in := `{"title":"T","description":"D","createdBy":"me","version":2,"userId":"u1","publicEdit":true,"affiliates":{"count":3}}`

	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(in), &m))

	assert.Equal(t, "T", m.Title)
	assert.Equal(t, 2, m.Version)
	assert.Len(t, m.Extra, 3)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestMetadata_MarshalOrder(t *testing.T) {
	m := Metadata{
		Title: "T",
		Extra: map[string]json.RawMessage{
			"zeta":  json.RawMessage(`1`),
			"alpha": json.RawMessage(`"a"`),
			// typed fields win over a stale copy in Extra
			"title": json.RawMessage(`"stale"`),
		},
	}

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"T","description":"","createdBy":"","version":0,"alpha":"a","zeta":1}`, string(out))
}

func TestMetadata_VersionAsFloat(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"version":7.0}`), &m))
	assert.Equal(t, 7, m.Version)
}

func TestMetadata_Errors(t *testing.T) {
	var m Metadata
	assert.Error(t, json.Unmarshal([]byte(`[]`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"version":"three"}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"title":5}`), &m))
}

func TestMetadata_NullFields(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"title":null,"version":null}`), &m))
	assert.Equal(t, "", m.Title)
	assert.Equal(t, 0, m.Version)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := &Document{
		ID:       "g1",
		Metadata: Metadata{Extra: map[string]json.RawMessage{"userId": json.RawMessage(`"u"`)}},
		Nodes:    []Node{{ID: "n1", Bibl: []string{"a"}, ImageWidth: NumberDimension(10), Type: strPtr("t")}},
		Edges:    []Edge{{Source: "n1", Target: "n1", Label: strPtr("l")}},
	}

	c := doc.Clone()
	c.Nodes[0].Bibl[0] = "changed"
	c.Nodes[0].ImageWidth[0] = '9'
	*c.Nodes[0].Type = "changed"
	*c.Edges[0].Label = "changed"
	c.Metadata.Extra["userId"][1] = 'X'

	assert.Equal(t, "a", doc.Nodes[0].Bibl[0])
	width, ok := doc.Nodes[0].ImageWidth.Float()
	require.True(t, ok)
	assert.Equal(t, 10.0, width)
	assert.Equal(t, "t", *doc.Nodes[0].Type)
	assert.Equal(t, "l", *doc.Edges[0].Label)
	assert.Equal(t, `"u"`, string(doc.Metadata.Extra["userId"]))
}

func TestDocument_CloneNil(t *testing.T) {
	var doc *Document
	assert.Nil(t, doc.Clone())
}

func TestMetadata_Version(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr string
	}{
		{`{"version":3}`, 3, ""},
		{`{"version":3.0}`, 3, ""},
		{`{"version":1.9}`, 0, "must be an integer"},
		{`{"version":-1}`, 0, "out of range"},
		{`{"version":1e20}`, 0, "out of range"},
		{`{"version":"2"}`, 0, "must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m Metadata
			err := json.Unmarshal([]byte(tt.in), &m)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Version)
		})
	}
}

func TestDimension_KeepsNumbersAndStrings(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","imageWidth":"100%","imageHeight":240}`), &n))

	width, ok := n.ImageWidth.Text()
	require.True(t, ok)
	assert.Equal(t, "100%", width)
	_, ok = n.ImageWidth.Float()
	assert.False(t, ok)

	height, ok := n.ImageHeight.Float()
	require.True(t, ok)
	assert.Equal(t, 240.0, height)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"imageWidth":"100%"`)
	assert.Contains(t, string(data), `"imageHeight":240`)
}

func TestDimension_NullAndInvalid(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","imageWidth":null}`), &n))
	assert.True(t, n.ImageWidth.IsZero())
	assert.True(t, n.ImageHeight.IsZero())

	err := json.Unmarshal([]byte(`{"id":"n1","imageWidth":{"w":1}}`), &n)
	assert.Error(t, err)
	err = json.Unmarshal([]byte(`{"id":"n1","imageHeight":true}`), &n)
	assert.Error(t, err)
}

func TestDocument_ValidateRequiresTopLevelKeys(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"empty object", `{}`, "graphData must contain metadata, nodes, edges"},
		{"no metadata", `{"nodes":[],"edges":[]}`, "graphData must contain metadata"},
		{"null metadata", `{"metadata":null,"nodes":[],"edges":[]}`, "graphData must contain metadata"},
		{"no edges", `{"metadata":{},"nodes":[]}`, "graphData must contain edges"},
		{"null lists are empty", `{"metadata":{},"nodes":null,"edges":null}`, ""},
		{"complete", `{"metadata":{"title":"T"},"nodes":[{"id":"a"}],"edges":[]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Document
			require.NoError(t, json.Unmarshal([]byte(tt.in), &doc))
			err := doc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestDocument_BuiltInCodeNeedsNoKeys(t *testing.T) {
	doc := &Document{Nodes: []Node{{ID: "a"}}}
	assert.NoError(t, doc.Validate())
}
