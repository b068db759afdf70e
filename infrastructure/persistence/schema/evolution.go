package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"knowgraph/domain/graph"
)

// Stored document formats. Every data blob is written next to the format
// it was encoded with so old rows can be upgraded on read.
const (
	// FormatLegacy is the loosely typed JSON written before documents had a schema
	FormatLegacy = 1
	// FormatCurrent is the typed Document encoding
	FormatCurrent = 2
)

// UpgradeFunc rewrites a blob from one format to the next
type UpgradeFunc func(data []byte) ([]byte, error)

// Upgrade moves data from FromFormat to FromFormat+1
type Upgrade struct {
	FromFormat  int
	Description string
	Apply       UpgradeFunc
}

// Registry decodes stored blobs of any known format into Documents
type Registry struct {
	mu       sync.RWMutex
	current  int
	upgrades map[int]Upgrade
}

// NewRegistry creates a registry with the built-in upgrades registered
func NewRegistry() *Registry {
	r := &Registry{
		current:  FormatCurrent,
		upgrades: make(map[int]Upgrade),
	}
	_ = r.Register(Upgrade{
		FromFormat:  FormatLegacy,
		Description: "coerce untyped node attributes into typed fields",
		Apply:       upgradeLegacy,
	})
	return r
}

// Register adds an upgrade step. Steps must chain towards the current format.
func (r *Registry) Register(up Upgrade) error {
	if up.Apply == nil {
		return fmt.Errorf("upgrade from format %d has no apply function", up.FromFormat)
	}
	if up.FromFormat < 1 || up.FromFormat >= r.current {
		return fmt.Errorf("upgrade from format %d is outside 1..%d", up.FromFormat, r.current-1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.upgrades[up.FromFormat]; exists {
		return fmt.Errorf("upgrade from format %d already registered", up.FromFormat)
	}
	r.upgrades[up.FromFormat] = up
	return nil
}

// Current returns the format new blobs are written with
func (r *Registry) Current() int {
	return r.current
}

// Upgrades lists the registered steps in order
func (r *Registry) Upgrades() []Upgrade {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Upgrade, 0, len(r.upgrades))
	for _, up := range r.upgrades {
		out = append(out, up)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromFormat < out[j].FromFormat })
	return out
}

// Migrate brings data from format up to the current format
func (r *Registry) Migrate(data []byte, format int) ([]byte, error) {
	if format == 0 {
		format = FormatLegacy
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if format > r.current {
		return nil, fmt.Errorf("format %d is newer than supported format %d", format, r.current)
	}

	for f := format; f < r.current; f++ {
		up, ok := r.upgrades[f]
		if !ok {
			return nil, fmt.Errorf("no upgrade registered from format %d", f)
		}
		next, err := up.Apply(data)
		if err != nil {
			return nil, fmt.Errorf("upgrade %d->%d failed: %w", f, f+1, err)
		}
		data = next
	}
	return data, nil
}

// Decode upgrades data if needed and parses it into a Document
func (r *Registry) Decode(data []byte, format int) (*graph.Document, error) {
	migrated, err := r.Migrate(data, format)
	if err != nil {
		return nil, err
	}

	var doc graph.Document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode graph document (format %d): %w", format, err)
	}
	return &doc, nil
}

// Encode serializes a document in the current format
func (r *Registry) Encode(doc *graph.Document) ([]byte, int, error) {
	data, err := graph.Encode(doc)
	if err != nil {
		return nil, 0, err
	}
	return data, r.current, nil
}
