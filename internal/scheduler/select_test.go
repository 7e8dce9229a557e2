package scheduler

import (
	"math/rand"
	"testing"

	"github.com/antoniostano/roundtable/internal/persona"
)

func testPanel() []persona.Persona {
	return []persona.Persona{
		{ID: "moderator", Name: "Maya"},
		{ID: "economist", Name: "Victor", Expertise: []string{"market", "cost"}},
		{ID: "engineer", Name: "Ada", Expertise: []string{"software", "data"}},
		{ID: "ethicist", Name: "Ines", Expertise: []string{"privacy", "rights"}},
	}
}

func TestSelectSpeakerNeverRepeatsLast(t *testing.T) {
	panel := testPanel()
	rng := rand.New(rand.NewSource(1))

	last := ""
	for i := 0; i < 200; i++ {
		p := SelectSpeaker(panel, last, "", rng)
		if p.ID == "" {
			t.Fatalf("no speaker selected")
		}
		if last != "" && p.ID == last {
			t.Fatalf("iteration %d: speaker %q repeated immediately", i, p.ID)
		}
		last = p.ID
	}
}

func TestSelectSpeakerKeywordRoutingDeterministic(t *testing.T) {
	panel := testPanel()

	// Routing must not depend on the random draw.
	for _, seed := range []int64{1, 7, 42, 1234} {
		rng := rand.New(rand.NewSource(seed))
		p := SelectSpeaker(panel, "moderator", "what does this mean for Privacy online?", rng)
		if p.ID != "ethicist" {
			t.Fatalf("seed %d: selected %q, want ethicist", seed, p.ID)
		}
	}
}

func TestSelectSpeakerKeywordFirstMatchWins(t *testing.T) {
	panel := testPanel()
	rng := rand.New(rand.NewSource(1))

	// Both economist and engineer match; registry order decides.
	p := SelectSpeaker(panel, "", "the market impact of the data economy", rng)
	if p.ID != "economist" {
		t.Fatalf("selected %q, want economist (registry order)", p.ID)
	}
}

func TestSelectSpeakerExclusionAppliesBeforeRouting(t *testing.T) {
	panel := testPanel()
	rng := rand.New(rand.NewSource(1))

	// The only keyword match is the last speaker; routing must not pick them.
	p := SelectSpeaker(panel, "ethicist", "what about privacy?", rng)
	if p.ID == "ethicist" {
		t.Fatalf("excluded last speaker was selected")
	}
}

func TestSelectSpeakerSinglePersonaMayRepeat(t *testing.T) {
	solo := []persona.Persona{{ID: "only", Name: "Only"}}
	rng := rand.New(rand.NewSource(1))

	p := SelectSpeaker(solo, "only", "", rng)
	if p.ID != "only" {
		t.Fatalf("selected %q, want only", p.ID)
	}
}

func TestSelectSpeakerNoKeywordFallsBackToRandom(t *testing.T) {
	panel := testPanel()
	rng := rand.New(rand.NewSource(3))

	seen := map[string]bool{}
	for i := 0; i < 400; i++ {
		p := SelectSpeaker(panel, "moderator", "nothing matches here", rng)
		if p.ID == "moderator" {
			t.Fatalf("excluded speaker selected")
		}
		seen[p.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("random fallback covered %d personas, want 3", len(seen))
	}
}
