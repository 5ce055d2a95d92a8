package topic

import (
	"slices"
	"testing"
)

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"http.request", "http.request", true},
		{"http.request", "http.response", false},
		{"http.request", "http.*", true},
		{"http", "http.*", false},
		{"mock.rule.added", "mock.*", false},
		{"mock.rule.added", "mock.**", true},
		{"mock", "mock.**", true},
		{"mock.hit", "*.hit", true},
		{"breakpoint.hit", "*.hit", true},
		{"mock.rule.added", "mock.*.added", true},
		{"mock.rule.added", "**.added", true},
		{"log", "**", true},
		{"log", "*", true},
		{"perf.sample", "*", false},
	}

	for _, tt := range tests {
		if got := tt.topic.Matches(tt.pattern); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
		}
	}
}

func TestTopic_IsWildcard(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"http.request", false},
		{"http.*", true},
		{"**", true},
		{"mock.**.added", true},
		{"a*b", false},
	}

	for _, tt := range tests {
		if got := tt.topic.IsWildcard(); got != tt.want {
			t.Errorf("%q.IsWildcard() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestTopic_IsValid(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"log", true},
		{"http.request", true},
		{"", false},
		{".http", false},
		{"http.", false},
		{"http..request", false},
	}

	for _, tt := range tests {
		if got := tt.topic.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher()
	for _, p := range []Topic{"http.*", "http.**", "*.hit", "**", "mock.rule.*", "http.*"} {
		m.Add(p)
	}
	if m.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", m.Count())
	}

	tests := []struct {
		eventType Topic
		want      []Topic
	}{
		{"http.request", []Topic{"**", "http.*", "http.**"}},
		{"http", []Topic{"**", "http.**"}},
		{"mock.hit", []Topic{"**", "*.hit"}},
		{"mock.rule.added", []Topic{"**", "mock.rule.*"}},
		{"log", []Topic{"**"}},
		{"", nil},
	}

	for _, tt := range tests {
		got := m.Match(tt.eventType)
		slices.Sort(got)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Match(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestMatcher_AgreesWithMatches(t *testing.T) {
	patterns := []Topic{"http.*", "**.added", "mock.**", "*.*.added", "ws.message"}
	events := []Topic{"http.request", "mock", "mock.rule.added", "ws.message", "ws.frame", "log"}

	m := NewMatcher()
	for _, p := range patterns {
		m.Add(p)
	}

	for _, ev := range events {
		got := m.Match(ev)
		for _, p := range patterns {
			if want := ev.Matches(p); slices.Contains(got, p) != want {
				t.Errorf("Match(%q) contains %q = %v, Matches = %v", ev, p, !want, want)
			}
		}
	}
}

func TestMatcher_Remove(t *testing.T) {
	m := NewMatcher()
	m.Add("http.*")
	m.Add("http.**")

	m.Remove("http.*")
	m.Remove("http.*")
	m.Remove("never.added")

	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
	if got := m.Match("http.request"); !slices.Equal(got, []Topic{"http.**"}) {
		t.Errorf("Match() after Remove = %v", got)
	}

	m.Remove("http.**")
	if len(m.root.children) != 0 {
		t.Errorf("empty nodes not pruned: %v", m.root.children)
	}

	m.Add("log")
	m.Clear()
	if m.Count() != 0 || m.Match("log") != nil {
		t.Error("Clear() left patterns behind")
	}
}
