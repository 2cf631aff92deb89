package i18n

import (
	"testing"

	"genstudio/internal/domain"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		prefs []string
		want  string
	}{
		{[]string{"ru-RU,ru;q=0.9,en;q=0.8"}, "ru"},
		{[]string{"id-ID"}, "id"},
		{[]string{"en-GB"}, "en"},
		{[]string{"", "ru"}, "ru"},
		{[]string{"de-DE"}, "en"},
		{[]string{"not a locale!!"}, "en"},
		{nil, "en"},
	}
	for _, tt := range tests {
		if got := Negotiate(tt.prefs...); got != tt.want {
			t.Errorf("Negotiate(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		locale string
		status domain.MessageStatus
		want   string
	}{
		{"en", domain.StatusRunning, "Generating"},
		{"ru", domain.StatusSucceeded, "Готово"},
		{"id", domain.StatusFailed, "Gagal"},
		{"fr", domain.StatusQueued, "Queued"},
		{"ru", domain.MessageStatus("mystery"), "mystery"},
	}
	for _, tt := range tests {
		if got := StatusLabel(tt.locale, tt.status); got != tt.want {
			t.Errorf("StatusLabel(%s, %s) = %q, want %q", tt.locale, tt.status, got, tt.want)
		}
	}
}

func TestErrorLabel(t *testing.T) {
	if got := ErrorLabel("ru", "pipeline_abort"); got != "Не удалось описать изображение, генерация пропущена" {
		t.Fatalf("ru pipeline_abort = %q", got)
	}
	if got := ErrorLabel("en", domain.ErrorCode(domain.ErrAuth)); got != "Invalid or missing API key" {
		t.Fatalf("en auth = %q", got)
	}
	if got := ErrorLabel("en", ""); got != "" {
		t.Fatalf("empty code = %q", got)
	}
}
