// Package catalog holds the static registry of generation models: their
// endpoint kind, parameter domains, attachment slots and pricing.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"genstudio/internal/domain"
)

//go:embed models.yaml
var embeddedModels []byte

// EndpointKind selects the provider endpoint and payload shape for a model.
type EndpointKind string

const (
	TextToImage          EndpointKind = "text_to_image"
	ImageToVideo         EndpointKind = "image_to_video"
	VideoToVideo         EndpointKind = "video_to_video"
	VideoUpscale         EndpointKind = "video_upscale"
	CharacterPerformance EndpointKind = "character_performance"
)

// Known reports whether k is one of the supported endpoint kinds.
func (k EndpointKind) Known() bool {
	switch k {
	case TextToImage, ImageToVideo, VideoToVideo, VideoUpscale, CharacterPerformance:
		return true
	}
	return false
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Cardinality string

const (
	Single   Cardinality = "single"
	Multiple Cardinality = "multiple"
)

// Slot is a named attachment position in a model's input schema.
type Slot struct {
	Name        string      `yaml:"name" json:"name"`
	Media       MediaKind   `yaml:"media" json:"media"`
	Cardinality Cardinality `yaml:"cardinality" json:"cardinality"`
	MaxCount    int         `yaml:"max_count" json:"maxCount"`
	Required    bool        `yaml:"required" json:"required"`
}

// Pricing kinds.
const (
	PricePerSecond = "per_second"
	PricePerImage  = "per_image"
	PriceFlat      = "flat"
)

// Pricing declares how credits are computed for a model.
type Pricing struct {
	Kind         string         `yaml:"kind" json:"kind"`
	PerSecond    int            `yaml:"per_second" json:"perSecond,omitempty"`
	FixedSeconds int            `yaml:"fixed_seconds" json:"fixedSeconds,omitempty"`
	Tiers        map[string]int `yaml:"tiers" json:"tiers,omitempty"`
	Credits      int            `yaml:"credits" json:"credits,omitempty"`
}

// Model describes one generation model. Values returned by a Catalog are
// shared and must not be modified.
type Model struct {
	ID        string       `yaml:"id" json:"id"`
	Endpoint  EndpointKind `yaml:"endpoint" json:"endpoint"`
	Ratios    []string     `yaml:"ratios" json:"ratios"`
	Durations []int        `yaml:"durations" json:"durations"`
	Slots     []Slot       `yaml:"slots" json:"slots"`
	Pricing   Pricing      `yaml:"pricing" json:"pricing"`
}

// Slot returns the slot named name.
func (m *Model) Slot(name string) (Slot, bool) {
	for _, s := range m.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// DefaultRatio returns the first ratio of the domain, or "" when the model has none.
func (m *Model) DefaultRatio() string {
	if len(m.Ratios) == 0 {
		return ""
	}
	return m.Ratios[0]
}

// DefaultDuration returns the first duration of the domain, or 0 when fixed.
func (m *Model) DefaultDuration() int {
	if len(m.Durations) == 0 {
		return 0
	}
	return m.Durations[0]
}

func (m *Model) HasRatio(ratio string) bool {
	for _, r := range m.Ratios {
		if r == ratio {
			return true
		}
	}
	return false
}

func (m *Model) HasDuration(d int) bool {
	for _, v := range m.Durations {
		if v == d {
			return true
		}
	}
	return false
}

// Cost returns the credit price for a generation with the given parameters.
// Empty or zero parameters take the domain defaults, so the function is total.
func (m *Model) Cost(ratio string, duration int) int {
	p := m.Pricing
	switch p.Kind {
	case PricePerSecond:
		seconds := p.FixedSeconds
		if len(m.Durations) > 0 {
			seconds = duration
			if !m.HasDuration(seconds) {
				seconds = m.DefaultDuration()
			}
		}
		return p.PerSecond * seconds
	case PricePerImage:
		if ratio == "" || !m.HasRatio(ratio) {
			ratio = m.DefaultRatio()
		}
		return p.Tiers[ResolutionTier(ratio)]
	default:
		return p.Credits
	}
}

// ResolutionTier classifies a "W:H" ratio by its short side: 1080p when it is
// at least 1080 pixels, 720p otherwise.
func ResolutionTier(ratio string) string {
	w, h, ok := parseRatio(ratio)
	if !ok {
		return "720p"
	}
	if min(w, h) >= 1080 {
		return "1080p"
	}
	return "720p"
}

func parseRatio(ratio string) (int, int, bool) {
	ws, hs, found := strings.Cut(ratio, ":")
	if !found {
		return 0, 0, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Catalog is an immutable registry of models keyed by id.
type Catalog struct {
	models []*Model
	byID   map[string]*Model
}

type file struct {
	Models []*Model `yaml:"models"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embeddedModels)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads a catalog definition from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog definition.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	for _, m := range f.Models {
		applyDefaults(m)
	}
	if err := validate(f.Models); err != nil {
		return nil, err
	}
	c := &Catalog{models: f.Models, byID: make(map[string]*Model, len(f.Models))}
	for _, m := range f.Models {
		c.byID[m.ID] = m
	}
	return c, nil
}

func applyDefaults(m *Model) {
	if m == nil {
		return
	}
	for i := range m.Slots {
		if m.Slots[i].Cardinality == "" {
			m.Slots[i].Cardinality = Single
		}
		if m.Slots[i].Cardinality == Single {
			m.Slots[i].MaxCount = 1
		}
	}
	if m.Pricing.Kind == "" {
		m.Pricing.Kind = PriceFlat
	}
}

func validate(models []*Model) error {
	var errs []string
	if len(models) == 0 {
		errs = append(errs, "at least one model is required")
	}
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if m == nil {
			errs = append(errs, fmt.Sprintf("models[%d] is empty", i))
			continue
		}
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("models[%d].id is required", i))
		} else if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("models[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true
		if !m.Endpoint.Known() {
			errs = append(errs, fmt.Sprintf("models[%d].endpoint %q is not supported", i, m.Endpoint))
		}
		for _, r := range m.Ratios {
			if _, _, ok := parseRatio(r); !ok {
				errs = append(errs, fmt.Sprintf("models[%d].ratios: %q is not W:H", i, r))
			}
		}
		for _, d := range m.Durations {
			if d <= 0 {
				errs = append(errs, fmt.Sprintf("models[%d].durations: %d is not positive", i, d))
			}
		}
		slotNames := make(map[string]bool, len(m.Slots))
		for j, s := range m.Slots {
			switch {
			case s.Name == "":
				errs = append(errs, fmt.Sprintf("models[%d].slots[%d].name is required", i, j))
			case slotNames[s.Name]:
				errs = append(errs, fmt.Sprintf("models[%d].slots[%d].name %q is duplicated", i, j, s.Name))
			}
			slotNames[s.Name] = true
			if s.Media != MediaImage && s.Media != MediaVideo {
				errs = append(errs, fmt.Sprintf("models[%d].slots[%d].media %q is not supported", i, j, s.Media))
			}
			if s.Cardinality != Single && s.Cardinality != Multiple {
				errs = append(errs, fmt.Sprintf("models[%d].slots[%d].cardinality %q is not supported", i, j, s.Cardinality))
			}
			if s.MaxCount < 1 {
				errs = append(errs, fmt.Sprintf("models[%d].slots[%d].max_count must be positive", i, j))
			}
		}
		switch m.Pricing.Kind {
		case PricePerSecond:
			if m.Pricing.PerSecond <= 0 {
				errs = append(errs, fmt.Sprintf("models[%d].pricing.per_second must be positive", i))
			}
			if len(m.Durations) == 0 && m.Pricing.FixedSeconds <= 0 {
				errs = append(errs, fmt.Sprintf("models[%d].pricing.fixed_seconds is required without durations", i))
			}
		case PricePerImage:
			if len(m.Pricing.Tiers) == 0 {
				errs = append(errs, fmt.Sprintf("models[%d].pricing.tiers is required", i))
			}
		case PriceFlat:
		default:
			errs = append(errs, fmt.Sprintf("models[%d].pricing.kind %q is not supported", i, m.Pricing.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the model with the given id.
func (c *Catalog) Get(id string) (*Model, error) {
	m, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("catalog: %q: %w", id, domain.ErrUnknownModel)
	}
	return m, nil
}

// List returns every model in declaration order.
func (c *Catalog) List() []*Model {
	return append([]*Model(nil), c.models...)
}

// EstimateCost prices a generation after applying domain defaults. Values
// outside the model's domains are rejected.
func (c *Catalog) EstimateCost(id, ratio string, duration int) (int, error) {
	m, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	if ratio != "" && !m.HasRatio(ratio) {
		return 0, fmt.Errorf("catalog: %s ratio %q: %w", id, ratio, domain.ErrOutOfDomain)
	}
	if duration != 0 && !m.HasDuration(duration) {
		return 0, fmt.Errorf("catalog: %s duration %d: %w", id, duration, domain.ErrOutOfDomain)
	}
	return m.Cost(ratio, duration), nil
}

// USD converts credits to dollars.
func USD(credits int) float64 {
	return float64(credits) / 100
}
