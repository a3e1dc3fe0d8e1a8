package i18n

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/AlexTLDR/evite-checkin/internal/errs"
)

type Language string

const (
	Romanian Language = "ro"
	English  Language = "en"
)

var matcher = language.NewMatcher([]language.Tag{
	language.Romanian, // default
	language.English,
})

func parse(value string) (Language, bool) {
	switch value {
	case "ro":
		return Romanian, true
	case "en":
		return English, true
	}
	return "", false
}

// GetLanguageFromRequest extracts language from request: query param, then
// cookie, then the Accept-Language header. Defaults to Romanian.
func GetLanguageFromRequest(r *http.Request) Language {
	if lang, ok := parse(r.URL.Query().Get("lang")); ok {
		return lang
	}

	if cookie, err := r.Cookie("lang"); err == nil {
		if lang, ok := parse(cookie.Value); ok {
			return lang
		}
	}

	if header := r.Header.Get("Accept-Language"); header != "" {
		tags, _, err := language.ParseAcceptLanguage(header)
		if err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No && idx == 1 {
				return English
			}
		}
	}

	return Romanian
}

var messages = map[Language]map[errs.Kind]string{
	Romanian: {
		errs.KindInvalidArgument: "Cerere invalidă",
		errs.KindNotAMember:      "Invitatul nu este pe lista acestui eveniment",
		errs.KindNotFound:        "Cod invalid",
		errs.KindAlreadyUsed:     "Cod deja folosit",
		errs.KindStoreError:      "Serviciu indisponibil, încercați din nou",
		errs.KindDispatchFailed:  "Trimiterea a eșuat",
		errs.KindUnknown:         "Eroare neașteptată",
	},
	English: {
		errs.KindInvalidArgument: "Invalid request",
		errs.KindNotAMember:      "Guest is not on this event's list",
		errs.KindNotFound:        "Invalid code",
		errs.KindAlreadyUsed:     "Already used",
		errs.KindStoreError:      "Service unavailable, please retry",
		errs.KindDispatchFailed:  "Delivery failed",
		errs.KindUnknown:         "Unexpected error",
	},
}

var usedAtFormat = map[Language]string{
	Romanian: "Folosit deja la %s",
	English:  "Already used at %s",
}

// ErrorMessage is the localized text shown for an error. ALREADY_USED errors
// carry their redemption time, rendered in loc.
func ErrorMessage(lang Language, err error, loc *time.Location) string {
	table, ok := messages[lang]
	if !ok {
		table = messages[Romanian]
		lang = Romanian
	}

	kind := errs.KindOf(err)
	if kind == errs.KindAlreadyUsed {
		if usedAt, ok := errs.UsedAt(err); ok {
			if loc == nil {
				loc = time.UTC
			}
			return fmt.Sprintf(usedAtFormat[lang], usedAt.In(loc).Format("15:04:05, 02.01.2006"))
		}
	}

	if msg, ok := table[kind]; ok {
		return msg
	}
	return table[errs.KindUnknown]
}
