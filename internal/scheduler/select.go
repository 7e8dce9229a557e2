package scheduler

import (
	"math/rand"
	"strings"

	"github.com/antoniostano/roundtable/internal/persona"
)

// SelectSpeaker picks the next autonomous speaker. The last speaker is
// excluded unless the panel has a single seat. A user message is classified
// by keyword against each remaining persona's expertise, first-match-wins in
// registry order; without a match the draw is uniform over the remaining
// personas. Deterministic given its inputs except for the explicit random
// draw.
func SelectSpeaker(personas []persona.Persona, lastSpeakerID, userText string, rng *rand.Rand) persona.Persona {
	if len(personas) == 0 {
		return persona.Persona{}
	}

	candidates := personas
	if len(personas) > 1 && lastSpeakerID != "" {
		filtered := make([]persona.Persona, 0, len(personas)-1)
		for _, p := range personas {
			if p.ID != lastSpeakerID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	if text := strings.ToLower(strings.TrimSpace(userText)); text != "" {
		for _, p := range candidates {
			for _, kw := range p.Expertise {
				kw = strings.ToLower(strings.TrimSpace(kw))
				if kw != "" && strings.Contains(text, kw) {
					return p
				}
			}
		}
	}

	return candidates[rng.Intn(len(candidates))]
}
