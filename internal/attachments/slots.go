// Package attachments tracks per-model attachment state against the model's
// slot schema.
package attachments

import (
	"fmt"
	"strings"

	"genstudio/internal/catalog"
	"genstudio/internal/domain"
)

// Empty returns a state with every slot of m present and unset.
func Empty(m *catalog.Model) domain.Attachments {
	out := make(domain.Attachments, len(m.Slots))
	for _, s := range m.Slots {
		out[s.Name] = make([]string, s.MaxCount)
	}
	return out
}

// Normalize coerces a stored state onto m's schema: unknown slots are
// dropped, lists are padded or truncated to MaxCount and values are trimmed.
func Normalize(m *catalog.Model, state domain.Attachments) domain.Attachments {
	out := Empty(m)
	for _, s := range m.Slots {
		values := state[s.Name]
		for i := 0; i < len(values) && i < s.MaxCount; i++ {
			out[s.Name][i] = strings.TrimSpace(values[i])
		}
	}
	return out
}

// SetSlot stores uri at index of slot and returns the updated state. An empty
// uri clears the position. The input state is not modified.
func SetSlot(m *catalog.Model, state domain.Attachments, slot string, index int, uri string) (domain.Attachments, error) {
	s, ok := m.Slot(slot)
	if !ok {
		return nil, fmt.Errorf("attachments: %s has no slot %q: %w", m.ID, slot, domain.ErrUnknownSlot)
	}
	if index < 0 || index >= s.MaxCount {
		return nil, fmt.Errorf("attachments: %s slot %q index %d (max %d): %w", m.ID, slot, index, s.MaxCount, domain.ErrIndexOutOfRange)
	}
	out := Normalize(m, state)
	out[slot][index] = strings.TrimSpace(uri)
	return out, nil
}

// Clear resets the state for a model switch.
func Clear(m *catalog.Model) domain.Attachments {
	return Empty(m)
}

// ValidateForSubmit checks that every required slot holds at least one value.
// The first offending slot in schema order is reported.
func ValidateForSubmit(m *catalog.Model, state domain.Attachments) error {
	for _, s := range m.Slots {
		if !s.Required {
			continue
		}
		if len(filled(s, state[s.Name])) == 0 {
			return &domain.MissingRequiredSlotError{Slot: s.Name}
		}
	}
	return nil
}

// Fragment returns each slot's values with unset placeholders removed, in
// their original order. Slots without values are omitted.
func Fragment(m *catalog.Model, state domain.Attachments) map[string][]string {
	out := make(map[string][]string, len(m.Slots))
	for _, s := range m.Slots {
		if values := filled(s, state[s.Name]); len(values) > 0 {
			out[s.Name] = values
		}
	}
	return out
}

// Flatten lists every set value in schema order. It is what a user message
// records as its attachments.
func Flatten(m *catalog.Model, state domain.Attachments) []string {
	var out []string
	for _, s := range m.Slots {
		out = append(out, filled(s, state[s.Name])...)
	}
	return out
}

func filled(s catalog.Slot, values []string) []string {
	var out []string
	for i, v := range values {
		if i >= s.MaxCount {
			break
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
