// Package topic matches device event types against subscription patterns.
//
// Event types use dot-notation:
//
//	http.request
//	ws.message
//	mock.rule.added
//
// # Wildcards
//
//   - "*" matches exactly one segment
//   - "**" matches zero or more segments
//
// Examples:
//
//	http.*       matches http.request, http.response (not http)
//	mock.**      matches mock, mock.hit, mock.rule.added
//	*.hit        matches mock.hit, breakpoint.hit
//	**           matches everything
//
// The Matcher type stores patterns in a trie keyed by segment, so matching an
// event type costs time proportional to its depth rather than the number of
// patterns.
package topic
