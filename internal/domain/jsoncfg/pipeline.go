package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PipelineJSON is the request contract for a describe-then-generate run.
type PipelineJSON struct {
	Version     string   `json:"version"`
	References  []string `json:"references"`
	Instruction string   `json:"instruction"`
	BasePrompt  string   `json:"base_prompt"`
	Ratio       string   `json:"ratio,omitempty"`
	Duration    int      `json:"duration,omitempty"`
	Locale      string   `json:"locale,omitempty"`
}

const (
	// DefaultPipelineVersion is the schema version stamped on persisted runs.
	DefaultPipelineVersion = "2025-01"
	// DefaultInstruction asks the description provider for a reusable visual description.
	DefaultInstruction = "Describe the subject, composition, lighting, palette and style of the attached image in one dense paragraph suitable as a generation prompt."
	// MaxReferences caps the reference images accepted by a single run.
	MaxReferences = 3
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
)

// Normalize fills defaults and drops blank references.
func (p *PipelineJSON) Normalize(preferredLocale string) {
	if p == nil {
		return
	}
	if p.Version == "" {
		p.Version = DefaultPipelineVersion
	}
	if strings.TrimSpace(p.Instruction) == "" {
		p.Instruction = DefaultInstruction
	}
	refs := p.References[:0]
	for _, ref := range p.References {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	p.References = refs
	if p.Locale == "" {
		if preferredLocale != "" {
			p.Locale = preferredLocale
		} else {
			p.Locale = DefaultLocale
		}
	}
}

// Validate checks the contract before the run is started.
func (p PipelineJSON) Validate() error {
	if len(p.References) == 0 {
		return fmt.Errorf("references must contain at least one uri")
	}
	if len(p.References) > MaxReferences {
		return fmt.Errorf("references must contain at most %d uris", MaxReferences)
	}
	if p.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	return nil
}

// MustMarshal encodes v as JSON and panics on failure. It is used for values
// whose encoding cannot fail, such as plain structs and string maps.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
