package state

import "testing"

func TestBindIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	if !reg.Bind("el-1") {
		t.Fatal("first bind should claim the element")
	}
	if reg.Bind("el-1") {
		t.Fatal("second bind must be a no-op")
	}
	if !reg.Bind("el-2") {
		t.Fatal("a different element binds independently")
	}
}

func TestAnalysisLockSingleFlight(t *testing.T) {
	reg := NewRegistry()

	if !reg.BeginAnalysis("vid-1") {
		t.Fatal("first round should acquire the lock")
	}
	if reg.BeginAnalysis("vid-1") {
		t.Fatal("second round while in flight must be rejected")
	}

	reg.EndAnalysis("vid-1")
	if !reg.BeginAnalysis("vid-1") {
		t.Fatal("lock must be reusable after release")
	}
}

func TestEndAnalysisWithoutRoundIsSafe(t *testing.T) {
	reg := NewRegistry()
	reg.EndAnalysis("never-seen")
	if reg.Len() != 0 {
		t.Fatal("releasing an unknown element must not create state")
	}
}

func TestShieldedTransitionsOnce(t *testing.T) {
	reg := NewRegistry()

	if !reg.MarkShielded("img-1") {
		t.Fatal("first shield should win")
	}
	if reg.MarkShielded("img-1") {
		t.Fatal("second shield must be a no-op")
	}
}

func TestPruneDropsDetachedEntries(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("a")
	reg.Bind("b")
	reg.Bind("c")

	reg.Prune([]string{"a", "c", "missing"})

	if reg.Len() != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", reg.Len())
	}
	if !reg.Bind("a") {
		t.Fatal("pruned element must be bindable again if re-inserted")
	}
}

func TestDedupClaimOncePerResource(t *testing.T) {
	cache := NewDedupCache()

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "first sighting claims", url: "https://cdn.example.com/a.jpg", want: true},
		{name: "second sighting is rejected", url: "https://cdn.example.com/a.jpg", want: false},
		{name: "different resource claims", url: "https://cdn.example.com/b.jpg", want: true},
		{name: "repeat of second resource rejected", url: "https://cdn.example.com/b.jpg", want: false},
	}

	for _, tt := range tests {
		if got := cache.Claim(tt.url); got != tt.want {
			t.Errorf("%s: Claim(%q) = %v, want %v", tt.name, tt.url, got, tt.want)
		}
	}

	if cache.Len() != 2 {
		t.Fatalf("expected 2 claimed resources, got %d", cache.Len())
	}
	if !cache.Seen("https://cdn.example.com/a.jpg") {
		t.Fatal("claimed resource must report as seen")
	}
}
