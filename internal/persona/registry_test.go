package persona

import "testing"

func TestRegistryOrderAndLookup(t *testing.T) {
	r := NewRegistry(
		Persona{ID: "a", Name: "A"},
		Persona{ID: "b", Name: "B"},
		Persona{ID: "a", Name: "dup"},
	)

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	list := r.List()
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if got, ok := r.Get("a"); !ok || got.Name != "A" {
		t.Fatalf("Get(a) = %+v, %v; duplicate should not overwrite", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("Get(missing) should report not found")
	}
	if r.Lead().ID != "a" {
		t.Fatalf("Lead() = %q, want %q", r.Lead().ID, "a")
	}
}

func TestDefaultPanelShape(t *testing.T) {
	r := DefaultPanel()
	if r.Len() != 4 {
		t.Fatalf("default panel size = %d, want 4", r.Len())
	}
	if r.Lead().ID != "moderator" {
		t.Fatalf("lead = %q, want moderator", r.Lead().ID)
	}
	for _, p := range r.List() {
		if p.VoiceID == "" {
			t.Fatalf("persona %q has no voice id", p.ID)
		}
	}
}
