package persona

// Persona is a fixed panel participant with a behavioral template and a
// designated synthesized voice. The set is loaded once at startup and never
// mutated at runtime.
type Persona struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	VoiceID string `json:"voice_id"`
	// Style is free-text instruction material handed to the text generator.
	Style string `json:"style"`
	// Expertise keywords route user messages to the right panelist.
	Expertise []string `json:"expertise"`
}

// Registry is a read-only ordered catalog of personas. Registry order is
// significant: keyword routing is first-match-wins across this order.
type Registry struct {
	list []Persona
	byID map[string]Persona
}

func NewRegistry(personas ...Persona) *Registry {
	r := &Registry{
		list: make([]Persona, 0, len(personas)),
		byID: make(map[string]Persona, len(personas)),
	}
	for _, p := range personas {
		if _, dup := r.byID[p.ID]; dup {
			continue
		}
		r.list = append(r.list, p)
		r.byID[p.ID] = p
	}
	return r
}

func (r *Registry) Get(id string) (Persona, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// List returns the personas in registry order. The slice is a copy.
func (r *Registry) List() []Persona {
	out := make([]Persona, len(r.list))
	copy(out, r.list)
	return out
}

// Lead returns the persona that opens a discussion: the first registry entry.
func (r *Registry) Lead() Persona {
	if len(r.list) == 0 {
		return Persona{}
	}
	return r.list[0]
}

func (r *Registry) Len() int { return len(r.list) }

// DefaultPanel is the reference four-seat panel: a moderator plus three
// panelists with distinct expertise domains.
func DefaultPanel() *Registry {
	return NewRegistry(
		Persona{
			ID:      "moderator",
			Name:    "Maya",
			Role:    "Moderator",
			VoiceID: "cgSgspJ2msm6clMCkdW9",
			Style:   "warm, structured host; opens the topic, frames questions, keeps the panel on track",
		},
		Persona{
			ID:        "economist",
			Name:      "Victor",
			Role:      "Economist",
			VoiceID:   "TxGEqnHWrfWFTfGW9XjX",
			Style:     "pragmatic macro economist; argues from incentives, costs and second-order market effects",
			Expertise: []string{"economy", "market", "cost", "price", "money", "trade", "jobs"},
		},
		Persona{
			ID:        "engineer",
			Name:      "Ada",
			Role:      "Technologist",
			VoiceID:   "EXAVITQu4vr4xnSDxMaL",
			Style:     "systems engineer; concrete, grounded in how the technology actually works and fails",
			Expertise: []string{"technology", "software", "engineering", "technical", "data", "model", "compute"},
		},
		Persona{
			ID:        "ethicist",
			Name:      "Ines",
			Role:      "Ethicist",
			VoiceID:   "ThT5KcBeYPX3keUQqHPh",
			Style:     "moral philosopher; probes consequences for people, fairness and accountability",
			Expertise: []string{"ethics", "moral", "society", "privacy", "fairness", "rights", "harm"},
		},
	)
}
