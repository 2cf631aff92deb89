package infra

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POLL_INTERVAL_MS", "")
	t.Setenv("MAX_POLL_ATTEMPTS", "")
	t.Setenv("PROMPT_LIMIT", "")
	t.Setenv("DESCRIPTION_PROVIDER", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreSQLite {
		t.Fatalf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.MaxPollAttempts != 0 || cfg.PromptLimit != 1000 {
		t.Fatalf("MaxPollAttempts = %d, PromptLimit = %d", cfg.MaxPollAttempts, cfg.PromptLimit)
	}
	if cfg.RunwayAPIVersion != "2024-11-06" || cfg.DescriptionProvider != "openai" {
		t.Fatalf("RunwayAPIVersion = %q, DescriptionProvider = %q", cfg.RunwayAPIVersion, cfg.DescriptionProvider)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("POLL_INTERVAL_MS", "500")
	t.Setenv("MAX_POLL_ATTEMPTS", "120")
	t.Setenv("DESCRIPTION_PROVIDER", "gemini")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test ")
	t.Setenv("WEBP_QUALITY", "80")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StorePostgres || cfg.PollInterval != 500*time.Millisecond || cfg.MaxPollAttempts != 120 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DescriptionProvider != "gemini" || cfg.WebPQuality != 80 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mysql"}, "STORE_DRIVER"},
		{"unknown describer", map[string]string{"DESCRIPTION_PROVIDER": "claude"}, "DESCRIPTION_PROVIDER"},
		{"bad quality", map[string]string{"WEBP_QUALITY": "101"}, "WEBP_QUALITY"},
		{"zero interval", map[string]string{"POLL_INTERVAL_MS": "-1"}, "POLL_INTERVAL_MS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range []string{"STORE_DRIVER", "DATABASE_URL", "DESCRIPTION_PROVIDER", "WEBP_QUALITY", "POLL_INTERVAL_MS"} {
				t.Setenv(key, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("LoadConfig() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}
