package topic

import "sync"

// Matcher indexes wildcard patterns for fast lookup by event type.
// It is safe for concurrent use.
type Matcher struct {
	mu   sync.RWMutex
	root *trieNode
	size int
}

type trieNode struct {
	children map[string]*trieNode
	pattern  Topic // Set if a pattern terminates here
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{root: newTrieNode()}
}

// Add adds a pattern. Adding a pattern twice has no effect.
func (m *Matcher) Add(pattern Topic) {
	if !pattern.IsValid() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, seg := range pattern.Segments() {
		child := node.children[seg]
		if child == nil {
			child = newTrieNode()
			node.children[seg] = child
		}
		node = child
	}
	if node.pattern == "" {
		node.pattern = pattern
		m.size++
	}
}

// Remove removes a pattern and prunes nodes left empty.
func (m *Matcher) Remove(pattern Topic) {
	if !pattern.IsValid() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	segments := pattern.Segments()
	path := make([]*trieNode, 0, len(segments)+1)
	node := m.root
	path = append(path, node)
	for _, seg := range segments {
		node = node.children[seg]
		if node == nil {
			return
		}
		path = append(path, node)
	}
	if node.pattern == "" {
		return
	}
	node.pattern = ""
	m.size--

	for i := len(segments) - 1; i >= 0; i-- {
		child := path[i+1]
		if child.pattern != "" || len(child.children) > 0 {
			break
		}
		delete(path[i].children, segments[i])
	}
}

// Match returns every pattern matching eventType, each at most once.
func (m *Matcher) Match(eventType Topic) []Topic {
	if eventType == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.size == 0 {
		return nil
	}

	seen := make(map[*trieNode]bool)
	var matches []Topic
	m.match(m.root, eventType.Segments(), seen, &matches)
	return matches
}

func (m *Matcher) match(node *trieNode, segments []string, seen map[*trieNode]bool, matches *[]Topic) {
	if len(segments) == 0 {
		if node.pattern != "" && !seen[node] {
			seen[node] = true
			*matches = append(*matches, node.pattern)
		}
		// ** may match zero trailing segments
		if child := node.children[WildcardMulti]; child != nil {
			m.match(child, segments, seen, matches)
		}
		return
	}

	if child := node.children[segments[0]]; child != nil {
		m.match(child, segments[1:], seen, matches)
	}
	if child := node.children[WildcardSingle]; child != nil {
		m.match(child, segments[1:], seen, matches)
	}
	if child := node.children[WildcardMulti]; child != nil {
		for i := 0; i <= len(segments); i++ {
			m.match(child, segments[i:], seen, matches)
		}
	}
}

// Count returns the number of patterns.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Clear removes all patterns.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = newTrieNode()
	m.size = 0
}
