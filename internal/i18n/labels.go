// Package i18n negotiates the UI locale and renders status labels.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"genstudio/internal/domain"
)

// Supported lists the locales with translated labels; the first is the fallback.
var Supported = []language.Tag{language.English, language.Russian, language.Indonesian}

var (
	matcher = language.NewMatcher(Supported)
	labels  = catalog.NewBuilder(catalog.Fallback(language.English))
)

var statusLabels = map[domain.MessageStatus][3]string{
	domain.StatusSent:      {"Sent", "Отправлено", "Terkirim"},
	domain.StatusQueued:    {"Queued", "В очереди", "Dalam antrean"},
	domain.StatusSubmitted: {"Submitted", "Принято в работу", "Dikirim"},
	domain.StatusRunning:   {"Generating", "Генерация", "Sedang dibuat"},
	domain.StatusSucceeded: {"Done", "Готово", "Selesai"},
	domain.StatusFailed:    {"Failed", "Ошибка", "Gagal"},
	domain.StatusCancelled: {"Cancelled", "Отменено", "Dibatalkan"},
}

var errorLabels = map[string][3]string{
	"auth":              {"Invalid or missing API key", "Неверный или отсутствующий API-ключ", "Kunci API tidak valid atau kosong"},
	"submission":        {"The provider rejected the request", "Провайдер отклонил запрос", "Penyedia menolak permintaan"},
	"remote_task":       {"Generation failed on the provider", "Генерация завершилась ошибкой у провайдера", "Pembuatan gagal di penyedia"},
	"poll_limit":        {"Timed out waiting for the result", "Превышено время ожидания результата", "Waktu tunggu hasil habis"},
	"network":           {"Network error", "Сетевая ошибка", "Kesalahan jaringan"},
	"validation":        {"Check the request parameters", "Проверьте параметры запроса", "Periksa parameter permintaan"},
	"pipeline_abort":    {"Image description failed, generation skipped", "Не удалось описать изображение, генерация пропущена", "Deskripsi gambar gagal, pembuatan dilewati"},
	"incompatible_mode": {"This model cannot be used for this mode", "Модель не поддерживает этот режим", "Model ini tidak mendukung mode ini"},
	"config":            {"Unsupported model configuration", "Неподдерживаемая конфигурация модели", "Konfigurasi model tidak didukung"},
	"message_final":     {"This message can no longer be changed", "Это сообщение больше нельзя изменить", "Pesan ini tidak dapat diubah lagi"},
	"cancelled":         {"Cancelled", "Отменено", "Dibatalkan"},
	"internal":          {"Something went wrong", "Что-то пошло не так", "Terjadi kesalahan"},
}

func init() {
	for status, text := range statusLabels {
		register("status."+string(status), text)
	}
	for code, text := range errorLabels {
		register("error."+code, text)
	}
}

func register(key string, text [3]string) {
	for i, tag := range Supported {
		if err := labels.SetString(tag, key, text[i]); err != nil {
			panic(err)
		}
	}
}

// Match resolves one explicit preference or Accept-Language value to a
// supported locale.
func Match(pref string) (string, bool) {
	pref = strings.TrimSpace(pref)
	if pref == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(pref)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return Supported[idx].String(), true
}

// Negotiate returns the first preference that matches, or "en".
func Negotiate(prefs ...string) string {
	for _, p := range prefs {
		if locale, ok := Match(p); ok {
			return locale
		}
	}
	return Supported[0].String()
}

func printer(locale string) *message.Printer {
	_, idx, _ := matcher.Match(language.Make(locale))
	return message.NewPrinter(Supported[idx], message.Catalog(labels))
}

// StatusLabel renders a message status for display.
func StatusLabel(locale string, status domain.MessageStatus) string {
	return printer(locale).Sprintf(message.Key("status."+string(status), string(status)))
}

// ErrorLabel renders an error code from domain.ErrorCode for display.
func ErrorLabel(locale, code string) string {
	if code == "" {
		return ""
	}
	return printer(locale).Sprintf(message.Key("error."+code, code))
}
