// Package payload maps a generation request onto the provider request body
// for the model's endpoint kind. It performs no I/O.
package payload

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"genstudio/internal/attachments"
	"genstudio/internal/catalog"
	"genstudio/internal/domain"
)

// DefaultPromptLimit is the maximum prompt length, in characters, accepted by the provider.
const DefaultPromptLimit = 1000

// Request is a provider-ready body addressed to an endpoint kind.
type Request struct {
	Endpoint catalog.EndpointKind
	Body     any
}

type URIRef struct {
	URI string `json:"uri"`
}

type TypedRef struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

type TextToImage struct {
	Model           string   `json:"model"`
	PromptText      string   `json:"promptText"`
	Ratio           string   `json:"ratio"`
	ReferenceImages []URIRef `json:"referenceImages,omitempty"`
}

type ImageToVideo struct {
	Model       string `json:"model"`
	PromptText  string `json:"promptText"`
	Ratio       string `json:"ratio"`
	Duration    int    `json:"duration"`
	PromptImage string `json:"promptImage"`
}

type VideoToVideo struct {
	Model      string     `json:"model"`
	PromptText string     `json:"promptText"`
	Ratio      string     `json:"ratio"`
	VideoURI   string     `json:"videoUri"`
	References []TypedRef `json:"references,omitempty"`
}

type VideoUpscale struct {
	Model    string `json:"model"`
	VideoURI string `json:"videoUri"`
}

type CharacterPerformance struct {
	Model     string   `json:"model"`
	Ratio     string   `json:"ratio"`
	Character TypedRef `json:"character"`
	Reference TypedRef `json:"reference"`
}

// Validate runs the local checks that must pass before anything is sent:
// prompt presence and length, parameter domains and required slots.
func Validate(m *catalog.Model, req domain.GenerationRequest, promptLimit int) error {
	if promptLimit <= 0 {
		promptLimit = DefaultPromptLimit
	}
	prompt := strings.TrimSpace(req.PromptText)
	if m.Endpoint == catalog.TextToImage && prompt == "" {
		return &domain.ValidationError{Field: "promptText", Reason: "prompt is required"}
	}
	if n := utf8.RuneCountInString(prompt); n > promptLimit {
		return &domain.ValidationError{Field: "promptText", Reason: fmt.Sprintf("prompt has %d characters, limit is %d", n, promptLimit)}
	}
	if _, _, err := resolveParams(m, req); err != nil {
		return err
	}
	return attachments.ValidateForSubmit(m, req.Attachments)
}

// Build shapes req into the body for m's endpoint. Unset ratio and duration
// take the first entry of the model's domain.
func Build(m *catalog.Model, req domain.GenerationRequest) (Request, error) {
	ratio, duration, err := resolveParams(m, req)
	if err != nil {
		return Request{}, err
	}
	prompt := strings.TrimSpace(req.PromptText)
	frag := attachments.Fragment(m, req.Attachments)

	switch m.Endpoint {
	case catalog.TextToImage:
		body := TextToImage{Model: m.ID, PromptText: prompt, Ratio: ratio}
		for _, uri := range slotValues(m, frag, catalog.MediaImage) {
			body.ReferenceImages = append(body.ReferenceImages, URIRef{URI: uri})
		}
		return Request{Endpoint: m.Endpoint, Body: body}, nil
	case catalog.ImageToVideo:
		return Request{Endpoint: m.Endpoint, Body: ImageToVideo{
			Model:       m.ID,
			PromptText:  prompt,
			Ratio:       ratio,
			Duration:    duration,
			PromptImage: first(slotValues(m, frag, catalog.MediaImage)),
		}}, nil
	case catalog.VideoToVideo:
		body := VideoToVideo{
			Model:      m.ID,
			PromptText: prompt,
			Ratio:      ratio,
			VideoURI:   first(slotValues(m, frag, catalog.MediaVideo)),
		}
		for _, uri := range slotValues(m, frag, catalog.MediaImage) {
			body.References = append(body.References, TypedRef{Type: string(catalog.MediaImage), URI: uri})
		}
		return Request{Endpoint: m.Endpoint, Body: body}, nil
	case catalog.VideoUpscale:
		return Request{Endpoint: m.Endpoint, Body: VideoUpscale{
			Model:    m.ID,
			VideoURI: first(slotValues(m, frag, catalog.MediaVideo)),
		}}, nil
	case catalog.CharacterPerformance:
		return Request{Endpoint: m.Endpoint, Body: CharacterPerformance{
			Model:     m.ID,
			Ratio:     ratio,
			Character: TypedRef{Type: string(catalog.MediaImage), URI: first(slotValues(m, frag, catalog.MediaImage))},
			Reference: TypedRef{Type: string(catalog.MediaVideo), URI: first(slotValues(m, frag, catalog.MediaVideo))},
		}}, nil
	default:
		return Request{}, fmt.Errorf("payload: endpoint %q: %w", m.Endpoint, domain.ErrUnsupportedEndpoint)
	}
}

func resolveParams(m *catalog.Model, req domain.GenerationRequest) (string, int, error) {
	ratio := req.Ratio
	if ratio == "" {
		ratio = m.DefaultRatio()
	} else if !m.HasRatio(ratio) {
		return "", 0, fmt.Errorf("payload: %s ratio %q: %w", m.ID, ratio, domain.ErrOutOfDomain)
	}
	duration := req.Duration
	if duration == 0 {
		duration = m.DefaultDuration()
	} else if !m.HasDuration(duration) {
		return "", 0, fmt.Errorf("payload: %s duration %d: %w", m.ID, duration, domain.ErrOutOfDomain)
	}
	return ratio, duration, nil
}

// slotValues concatenates the filled values of every slot of the given media
// kind, in schema order.
func slotValues(m *catalog.Model, frag map[string][]string, media catalog.MediaKind) []string {
	var out []string
	for _, s := range m.Slots {
		if s.Media == media {
			out = append(out, frag[s.Name]...)
		}
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
