package middleware

import (
	"context"
	"net/http"

	"genstudio/internal/i18n"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// Locale stores the negotiated UI locale in the request context. X-Locale
// wins over Accept-Language; fallback applies when neither matches.
func Locale(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, fallback)
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), LocaleKey, locale)))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	for _, pref := range []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language"), fallback} {
		if locale, ok := i18n.Match(pref); ok {
			return locale
		}
	}
	return "en"
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
