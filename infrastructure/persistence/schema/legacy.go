package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// upgradeLegacy turns a format 1 blob into the current encoding. Those
// blobs were written by browser code without a schema, so numbers show up
// as strings, bibl as a single string and positions with missing axes. Unknown top-level and metadata keys are kept.
func upgradeLegacy(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("legacy blob is not a JSON object: %w", err)
	}

	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		if v, ok := meta["version"]; ok {
			if n, ok := toNumber(v); ok && n == math.Trunc(n) && n >= 0 && n <= math.MaxInt32 {
				meta["version"] = int(n)
			} else {
				delete(meta, "version")
			}
		}
		for _, key := range []string{"title", "description", "createdBy"} {
			if v, ok := meta[key]; ok && v != nil {
				if _, isString := v.(string); !isString {
					meta[key] = fmt.Sprint(v)
				}
			}
		}
	} else {
		doc["metadata"] = map[string]interface{}{}
	}

	nodes, _ := doc["nodes"].([]interface{})
	for i, raw := range nodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("nodes[%d] is not an object", i)
		}
		upgradeLegacyNode(node)
	}
	if nodes == nil {
		nodes = []interface{}{}
	}
	doc["nodes"] = nodes

	edges, _ := doc["edges"].([]interface{})
	for i, raw := range edges {
		edge, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("edges[%d] is not an object", i)
		}
		for _, key := range []string{"id", "source", "target"} {
			if v, ok := edge[key]; ok && v != nil {
				edge[key] = stringValue(v)
			}
		}
		for _, key := range []string{"label", "type", "info"} {
			if v, ok := edge[key]; ok && v != nil {
				edge[key] = stringValue(v)
			}
		}
	}
	if edges == nil {
		edges = []interface{}{}
	}
	doc["edges"] = edges

	return json.Marshal(doc)
}

func upgradeLegacyNode(node map[string]interface{}) {
	for _, key := range []string{"id", "label", "color"} {
		if v, ok := node[key]; ok {
			if v == nil {
				node[key] = ""
			} else {
				node[key] = stringValue(v)
			}
		}
	}
	for _, key := range []string{"type", "info", "path"} {
		if v, ok := node[key]; ok && v != nil {
			s := stringValue(v)
			if s == "" {
				node[key] = nil
			} else {
				node[key] = s
			}
		}
	}

	// sizes are pixels or CSS lengths ("100%", "320px") and are kept as sent
	for _, key := range []string{"imageWidth", "imageHeight"} {
		switch v := node[key].(type) {
		case nil, float64:
		case string:
			if strings.TrimSpace(v) == "" {
				node[key] = nil
			}
		default:
			node[key] = nil
		}
	}

	switch b := node["bibl"].(type) {
	case nil:
	case string:
		if strings.TrimSpace(b) == "" {
			node["bibl"] = []interface{}{}
		} else {
			node["bibl"] = []interface{}{b}
		}
	case []interface{}:
		out := make([]interface{}, 0, len(b))
		for _, entry := range b {
			if entry == nil {
				continue
			}
			out = append(out, stringValue(entry))
		}
		node["bibl"] = out
	default:
		node["bibl"] = []interface{}{}
	}

	if v, ok := node["position"]; ok && v != nil {
		pos, isObject := v.(map[string]interface{})
		if !isObject {
			delete(node, "position")
		} else {
			x, _ := toNumber(pos["x"])
			y, _ := toNumber(pos["y"])
			node["position"] = map[string]interface{}{"x": x, "y": y}
		}
	}

	if v, ok := node["visible"]; ok && v != nil {
		switch vis := v.(type) {
		case bool:
		case string:
			node["visible"] = !strings.EqualFold(strings.TrimSpace(vis), "false")
		case float64:
			node["visible"] = vis != 0
		default:
			node["visible"] = true
		}
	}
}

// toNumber accepts JSON numbers and numeric strings with an optional "px" suffix
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "px")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
