// Package resolve computes plugin initialization order and enable/disable
// cascades from declared dependencies.
//
// All functions are pure: they read the node list they are given and never
// mutate it. Edges point from a plugin to the plugins it requires.
package resolve

// Node is a registered plugin and its declared dependencies.
type Node struct {
	ID           string
	Dependencies []string
}

// Cycle records a back edge found while ordering: From depends on To, and To
// was still being visited when the edge was followed.
type Cycle struct {
	From string
	To   string
}

// Result is the outcome of Order.
type Result struct {
	// Order lists every node exactly once, dependencies before dependents
	// wherever the graph is acyclic.
	Order []string

	// Cycles lists the back edges that were skipped to break cycles.
	Cycles []Cycle
}

// HasCycles reports whether any cycle was broken.
func (r Result) HasCycles() bool {
	return len(r.Cycles) > 0
}

// EnabledFunc reports whether a plugin is currently enabled.
type EnabledFunc func(id string) bool

// Order returns a dependency-respecting initialization order.
//
// Nodes are visited depth-first in the order given. Dependencies that are
// not in nodes are skipped. A dependency that is still being visited closes a
// cycle; it is not descended into again and the edge is reported in Cycles.
// The result is deterministic for a given input order.
func Order(nodes []Node) Result {
	index := indexNodes(nodes)

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(nodes))
	result := Result{Order: make([]string, 0, len(nodes))}

	var visit func(id string)
	visit = func(id string) {
		marks[id] = visiting
		for _, dep := range index[id].Dependencies {
			if _, ok := index[dep]; !ok {
				continue
			}
			switch marks[dep] {
			case visiting:
				result.Cycles = append(result.Cycles, Cycle{From: id, To: dep})
			case unvisited:
				visit(dep)
			}
		}
		marks[id] = done
		result.Order = append(result.Order, id)
	}

	for _, n := range nodes {
		if marks[n.ID] == unvisited {
			visit(n.ID)
		}
	}

	return result
}

// RequiredDependencies returns id's declared dependencies that are registered
// and not currently enabled, in declaration order. One hop only.
func RequiredDependencies(id string, nodes []Node, enabled EnabledFunc) []string {
	index := indexNodes(nodes)
	node, ok := index[id]
	if !ok {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, dep := range node.Dependencies {
		if _, ok := index[dep]; !ok || seen[dep] || dep == id {
			continue
		}
		seen[dep] = true
		if !enabled(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// DependentsToDisable returns the registered plugins that list id as a
// dependency and are currently enabled, in node order. One hop only.
func DependentsToDisable(id string, nodes []Node, enabled EnabledFunc) []string {
	var out []string
	for _, n := range nodes {
		if n.ID == id || !contains(n.Dependencies, id) {
			continue
		}
		if enabled(n.ID) {
			out = append(out, n.ID)
		}
	}
	return out
}

// TransitiveDependencies returns every registered plugin id reaches through
// its dependencies that is not currently enabled. Deeper dependencies come
// first, so enabling in the returned order never enables a plugin before
// what it requires. id itself is never included.
func TransitiveDependencies(id string, nodes []Node, enabled EnabledFunc) []string {
	index := indexNodes(nodes)
	if _, ok := index[id]; !ok {
		return nil
	}

	visited := map[string]bool{id: true}
	var out []string

	var walk func(cur string)
	walk = func(cur string) {
		for _, dep := range index[cur].Dependencies {
			if _, ok := index[dep]; !ok || visited[dep] {
				continue
			}
			visited[dep] = true
			walk(dep)
			if !enabled(dep) {
				out = append(out, dep)
			}
		}
	}
	walk(id)
	return out
}

// TransitiveDependents returns every enabled registered plugin that depends
// on id directly or through a chain. Outermost dependents come first, so
// disabling in the returned order never leaves an enabled plugin whose
// dependency was already disabled. id itself is never included.
func TransitiveDependents(id string, nodes []Node, enabled EnabledFunc) []string {
	index := indexNodes(nodes)
	if _, ok := index[id]; !ok {
		return nil
	}

	// Reverse edges in node order
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := index[dep]; ok && !contains(dependents[dep], n.ID) {
				dependents[dep] = append(dependents[dep], n.ID)
			}
		}
	}

	visited := map[string]bool{id: true}
	var postorder []string

	var walk func(cur string)
	walk = func(cur string) {
		for _, d := range dependents[cur] {
			if visited[d] {
				continue
			}
			visited[d] = true
			walk(d)
			if enabled(d) {
				postorder = append(postorder, d)
			}
		}
	}
	walk(id)
	return postorder
}

func indexNodes(nodes []Node) map[string]Node {
	index := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = n
		}
	}
	return index
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
