package schema

import "sort"

// RelationshipGraph is the directed graph of tables linked by relationship fields
type RelationshipGraph struct {
	nodes map[string]bool
	edges map[string][]string // table -> related tables
}

// NewRelationshipGraph builds the graph for every table in the schema.
// Relationships to undeclared tables are ignored here; the validator
// reports them separately.
func NewRelationshipGraph(s *Schema) *RelationshipGraph {
	g := &RelationshipGraph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
	for _, t := range s.Tables {
		g.nodes[t.Name] = true
	}
	for _, t := range s.Tables {
		for _, related := range t.Relations() {
			if g.nodes[related] {
				g.edges[t.Name] = append(g.edges[t.Name], related)
			}
		}
	}
	return g
}

// Related returns the tables directly referenced by table
func (g *RelationshipGraph) Related(table string) []string {
	return g.edges[table]
}

// DetectCycle returns the first cycle found as a path that starts and ends
// with the same table, or nil. Tables are visited in sorted order so the
// result is stable. Every node is entered at most once.
func (g *RelationshipGraph) DetectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)
	var cycle []string

	var hasCycle func(string) bool
	hasCycle = func(table string) bool {
		visited[table] = true
		recStack[table] = true
		path = append(path, table)

		for _, dep := range g.edges[table] {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				// Back-edge to an in-progress table
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string{}, path[i:]...), dep)
						break
					}
				}
				return true
			}
		}

		recStack[table] = false
		path = path[:len(path)-1]
		return false
	}

	tables := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if !visited[table] && hasCycle(table) {
			return cycle
		}
	}
	return nil
}

// TopologicalOrder returns tables ordered so that referenced tables come
// before the tables that reference them. It returns false when the graph
// has a cycle.
func (g *RelationshipGraph) TopologicalOrder() ([]string, bool) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	result := make([]string, 0, len(g.nodes))

	var visit func(string) bool
	visit = func(table string) bool {
		if recStack[table] {
			return false
		}
		if visited[table] {
			return true
		}
		visited[table] = true
		recStack[table] = true
		for _, dep := range g.edges[table] {
			if !visit(dep) {
				return false
			}
		}
		recStack[table] = false
		result = append(result, table)
		return true
	}

	tables := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if !visit(table) {
			return nil, false
		}
	}
	return result, true
}
