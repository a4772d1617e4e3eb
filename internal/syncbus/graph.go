package syncbus

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrInvalidGraph = errors.New("invalid dependency graph")

// Graph maps entity types to the resource groups a change to them makes
// stale. It is read-only once built.
type Graph struct {
	deps     map[EntityType][]string
	all      []string
	critical map[string]struct{}
}

// graphFile is the YAML layout accepted by LoadGraph.
//
//	groups: [accounts, account-summary, ...]   # optional, derived when empty
//	critical: [account-summary, dashboard]
//	entities:
//	  account: [accounts, account-summary, dashboard]
type graphFile struct {
	Groups   []string                `yaml:"groups"`
	Critical []string                `yaml:"critical"`
	Entities map[EntityType][]string `yaml:"entities"`
}

// DefaultGraph returns the built-in dependency graph.
func DefaultGraph() *Graph {
	g, err := newGraph(graphFile{
		Entities: map[EntityType][]string{
			EntityAccount:     {"accounts", "account-summary", "dashboard"},
			EntityTransaction: {"transactions", "account-summary", "budget-progress", "dashboard"},
			EntityBudget:      {"budgets", "budget-progress", "dashboard"},
			EntityCategory:    {"categories", "transactions", "budgets"},
			EntityTrip:        {"trips", "itineraries", "dashboard"},
			EntityItinerary:   {"itineraries", "trips"},
		},
		Critical: []string{"account-summary", "dashboard"},
	})
	if err != nil {
		panic(err)
	}
	return g
}

// LoadGraph reads a graph from a YAML file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return ParseGraph(data)
}

func ParseGraph(data []byte) (*Graph, error) {
	var f graphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return newGraph(f)
}

func newGraph(f graphFile) (*Graph, error) {
	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("%w: no entities", ErrInvalidGraph)
	}

	declared := make(map[string]struct{})
	for _, g := range f.Groups {
		if g == "" {
			return nil, fmt.Errorf("%w: empty group name", ErrInvalidGraph)
		}
		declared[g] = struct{}{}
	}
	explicit := len(declared) > 0

	g := &Graph{
		deps:     make(map[EntityType][]string, len(f.Entities)),
		critical: make(map[string]struct{}, len(f.Critical)),
	}
	for t, groups := range f.Entities {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidGraph, t)
		}
		if t == EntityBulkOperation {
			return nil, fmt.Errorf("%w: %s always maps to every group", ErrInvalidGraph, t)
		}
		for _, name := range groups {
			if name == "" {
				return nil, fmt.Errorf("%w: empty group name for %s", ErrInvalidGraph, t)
			}
			if _, ok := declared[name]; !ok {
				if explicit {
					return nil, fmt.Errorf("%w: %s references undeclared group %q", ErrInvalidGraph, t, name)
				}
				declared[name] = struct{}{}
			}
		}
		g.deps[t] = slices.Clone(groups)
	}
	for _, name := range f.Critical {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("%w: critical group %q is not declared", ErrInvalidGraph, name)
		}
		g.critical[name] = struct{}{}
	}

	g.all = make([]string, 0, len(declared))
	for name := range declared {
		g.all = append(g.all, name)
	}
	sort.Strings(g.all)
	return g, nil
}

// Groups returns the resource groups affected by a change to t. A bulk
// operation affects every group. ok is false for unknown types.
func (g *Graph) Groups(t EntityType) (groups []string, ok bool) {
	if t == EntityBulkOperation {
		return g.All(), true
	}
	deps, ok := g.deps[t]
	if !ok {
		return nil, false
	}
	return slices.Clone(deps), true
}

// All returns every known group in name order.
func (g *Graph) All() []string {
	return slices.Clone(g.all)
}

func (g *Graph) IsCritical(group string) bool {
	_, ok := g.critical[group]
	return ok
}

// Critical returns the eagerly refetched groups in name order.
func (g *Graph) Critical() []string {
	out := make([]string, 0, len(g.critical))
	for name := range g.critical {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MarshalYAML renders the graph in the LoadGraph layout.
func (g *Graph) MarshalYAML() (interface{}, error) {
	return graphFile{Groups: g.All(), Critical: g.Critical(), Entities: g.deps}, nil
}
