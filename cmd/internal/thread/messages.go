package thread

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys for user-facing error text.
const (
	msgNotFound     = "The conversation could not be found."
	msgSelf         = "You cannot start a conversation with yourself."
	msgTransient    = "The conversation could not be loaded. Please try again."
	msgInvalidInput = "The request is invalid."
)

// SupportedLanguages lists the locales with translated messages, default first.
var SupportedLanguages = []language.Tag{language.English, language.German, language.French}

var (
	messages = newCatalog()
	matcher  = language.NewMatcher(SupportedLanguages)
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, key, msg string) {
		_ = b.SetString(tag, key, msg)
	}

	for _, key := range []string{msgNotFound, msgSelf, msgTransient, msgInvalidInput} {
		set(language.English, key, key)
	}

	set(language.German, msgNotFound, "Die Unterhaltung wurde nicht gefunden.")
	set(language.German, msgSelf, "Sie können keine Unterhaltung mit sich selbst beginnen.")
	set(language.German, msgTransient, "Die Unterhaltung konnte nicht geladen werden. Bitte versuchen Sie es erneut.")
	set(language.German, msgInvalidInput, "Die Anfrage ist ungültig.")

	set(language.French, msgNotFound, "La conversation est introuvable.")
	set(language.French, msgSelf, "Vous ne pouvez pas démarrer une conversation avec vous-même.")
	set(language.French, msgTransient, "La conversation n'a pas pu être chargée. Veuillez réessayer.")
	set(language.French, msgInvalidInput, "La requête est invalide.")
	return b
}

// MatchLanguage picks the best supported language for an Accept-Language header value.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return SupportedLanguages[idx]
}

// UserMessage renders err as a localized, user-facing sentence.
func UserMessage(tag language.Tag, err error) string {
	if err == nil {
		return ""
	}
	p := message.NewPrinter(tag, message.Catalog(messages))
	return p.Sprintf(messageKey(err))
}

func messageKey(err error) string {
	switch {
	case IsSelfConversation(err):
		return msgSelf
	case IsNotFound(err):
		return msgNotFound
	case IsInvalidInput(err):
		return msgInvalidInput
	default:
		return msgTransient
	}
}
