package mcast

import "testing"

func TestGroupDeterminism(t *testing.T) {
	g, err := NewFromCSV("239.255.0.1,239.255.0.2,239.255.0.3")
	if err != nil {
		t.Fatalf("failed to create groups: %v", err)
	}
	topic := "Square"
	o1 := g.Group(topic)
	o2 := g.Group(topic)
	if o1 != o2 {
		t.Fatalf("group not deterministic: %s != %s", o1, o2)
	}

	// a second instance with the same list agrees
	g2, _ := NewFromCSV("239.255.0.1,239.255.0.2,239.255.0.3")
	if g2.Group(topic) != o1 {
		t.Fatalf("groups disagree across instances: %s != %s", g2.Group(topic), o1)
	}
}

func TestGroupSpreadsTopics(t *testing.T) {
	g, err := NewFromCSV("239.255.0.1,239.255.0.2,239.255.0.3")
	if err != nil {
		t.Fatalf("failed to create groups: %v", err)
	}
	used := map[string]bool{}
	for _, topic := range []string{"Square", "Circle", "Triangle", "Star", "Pentagon", "Hexagon", "Octagon", "Ring"} {
		used[g.Group(topic)] = true
	}
	if len(used) < 2 {
		t.Fatalf("expected topics spread over several groups, got %v", used)
	}

	single, _ := NewFromCSV("239.255.0.9")
	if got := single.Group("Circle"); got != "239.255.0.9" {
		t.Fatalf("expected the only group, got %s", got)
	}
}

func TestLocator(t *testing.T) {
	g, err := NewFromCSV("239.255.0.1")
	if err != nil {
		t.Fatalf("failed to create groups: %v", err)
	}
	l := g.Locator("Square", 7401)
	if got := l.String(); got != "udpv4://239.255.0.1:7401" {
		t.Fatalf("unexpected locator %s", got)
	}
}

func TestNewFromCSVRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", " , ", "10.0.0.1", "ff02::1", "not-an-ip"} {
		if _, err := NewFromCSV(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	g, err := NewFromCSV("239.255.0.1, 239.255.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Members()) != 1 {
		t.Fatalf("expected duplicates collapsed, got %v", g.Members())
	}
}
