package catalog

import (
	"errors"
	"strings"
	"testing"

	"genstudio/internal/domain"
)

func TestDefaultCatalogModels(t *testing.T) {
	c := Default()
	want := []string{"gen4_image", "gen4_image_turbo", "gen4_turbo", "veo3", "gen4_aleph", "upscale_v1", "act_two"}
	got := c.List()
	if len(got) != len(want) {
		t.Fatalf("List() returned %d models, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("List()[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestGetUnknownModel(t *testing.T) {
	_, err := Default().Get("gen9")
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("Get() error = %v, want ErrUnknownModel", err)
	}
}

func TestGen4TurboDomains(t *testing.T) {
	m, err := Default().Get("gen4_turbo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Endpoint != ImageToVideo {
		t.Fatalf("Endpoint = %q", m.Endpoint)
	}
	if m.DefaultRatio() != "1280:720" {
		t.Fatalf("DefaultRatio = %q", m.DefaultRatio())
	}
	if m.DefaultDuration() != 5 {
		t.Fatalf("DefaultDuration = %d", m.DefaultDuration())
	}
	slot, ok := m.Slot("promptImage")
	if !ok || !slot.Required || slot.Cardinality != Single || slot.MaxCount != 1 {
		t.Fatalf("promptImage slot = %#v, ok=%v", slot, ok)
	}
}

func TestCost(t *testing.T) {
	c := Default()
	tests := []struct {
		model    string
		ratio    string
		duration int
		want     int
	}{
		{"gen4_turbo", "1280:720", 5, 25},
		{"gen4_turbo", "1280:720", 10, 50},
		{"gen4_turbo", "", 0, 25},
		{"veo3", "720:1280", 8, 320},
		{"gen4_aleph", "1280:720", 0, 75},
		{"gen4_image", "1920:1080", 0, 8},
		{"gen4_image", "1080:1080", 0, 8},
		{"gen4_image", "1280:720", 0, 5},
		{"gen4_image", "", 0, 8},
		{"gen4_image_turbo", "720:1280", 0, 2},
		{"upscale_v1", "", 0, 20},
		{"act_two", "960:960", 0, 25},
	}
	for _, tc := range tests {
		t.Run(tc.model+"/"+tc.ratio, func(t *testing.T) {
			m, err := c.Get(tc.model)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			first := m.Cost(tc.ratio, tc.duration)
			if first != tc.want {
				t.Fatalf("Cost(%q, %d) = %d, want %d", tc.ratio, tc.duration, first, tc.want)
			}
			if second := m.Cost(tc.ratio, tc.duration); second != first {
				t.Fatalf("Cost is not stable: %d then %d", first, second)
			}
		})
	}
}

func TestCostTotalOverDomains(t *testing.T) {
	for _, m := range Default().List() {
		ratios := append([]string{""}, m.Ratios...)
		durations := append([]int{0}, m.Durations...)
		for _, r := range ratios {
			for _, d := range durations {
				if got := m.Cost(r, d); got <= 0 {
					t.Fatalf("%s Cost(%q, %d) = %d, want positive", m.ID, r, d, got)
				}
			}
		}
	}
}

func TestEstimateCostRejectsOutOfDomain(t *testing.T) {
	c := Default()
	if _, err := c.EstimateCost("gen4_turbo", "1:1", 5); !errors.Is(err, domain.ErrOutOfDomain) {
		t.Fatalf("ratio error = %v, want ErrOutOfDomain", err)
	}
	if _, err := c.EstimateCost("gen4_turbo", "", 7); !errors.Is(err, domain.ErrOutOfDomain) {
		t.Fatalf("duration error = %v, want ErrOutOfDomain", err)
	}
	got, err := c.EstimateCost("gen4_turbo", "", 10)
	if err != nil || got != 50 {
		t.Fatalf("EstimateCost = %d, %v", got, err)
	}
}

func TestResolutionTier(t *testing.T) {
	tests := map[string]string{
		"1920:1080": "1080p",
		"1080:1920": "1080p",
		"1440:1080": "1080p",
		"1280:720":  "720p",
		"1808:768":  "720p",
		"bogus":     "720p",
	}
	for in, want := range tests {
		if got := ResolutionTier(in); got != want {
			t.Fatalf("ResolutionTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty",
			yaml: "models: []",
			want: "at least one model is required",
		},
		{
			name: "bad endpoint",
			yaml: "models:\n  - id: x\n    endpoint: text_to_audio\n",
			want: `endpoint "text_to_audio" is not supported`,
		},
		{
			name: "duplicate id",
			yaml: "models:\n  - id: x\n    endpoint: video_upscale\n  - id: x\n    endpoint: video_upscale\n",
			want: `id "x" is duplicated`,
		},
		{
			name: "per second without durations",
			yaml: "models:\n  - id: x\n    endpoint: video_upscale\n    pricing:\n      kind: per_second\n      per_second: 2\n",
			want: "fixed_seconds is required",
		},
		{
			name: "multiple slot without max",
			yaml: "models:\n  - id: x\n    endpoint: text_to_image\n    slots:\n      - name: refs\n        media: image\n        cardinality: multiple\n",
			want: "max_count must be positive",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestUSD(t *testing.T) {
	if got := USD(250); got != 2.5 {
		t.Fatalf("USD(250) = %v", got)
	}
}
