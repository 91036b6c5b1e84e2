package rbac

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Indonesian is listed first so it wins when Accept-Language matches nothing.
var supportedLanguages = []language.Tag{language.Indonesian, language.English}

var languageMatcher = language.NewMatcher(supportedLanguages)

const (
	keyDenied        = "denied %s %s"
	keyLoginRequired = "login required"
	keyActionView    = "action view"
	keyActionEdit    = "action edit"
)

func init() {
	entries := []struct {
		tag      language.Tag
		key, msg string
	}{
		{language.Indonesian, keyDenied, "Anda tidak memiliki izin untuk %s halaman %s."},
		{language.Indonesian, keyLoginRequired, "Silakan masuk terlebih dahulu."},
		{language.Indonesian, keyActionView, "melihat"},
		{language.Indonesian, keyActionEdit, "mengubah"},
		{language.English, keyDenied, "You do not have permission to %s the page %s."},
		{language.English, keyLoginRequired, "Please sign in to continue."},
		{language.English, keyActionView, "view"},
		{language.English, keyActionEdit, "edit"},
	}
	for _, e := range entries {
		if err := message.SetString(e.tag, e.key, e.msg); err != nil {
			panic(err)
		}
	}
}

// DenialMessage renders the Forbidden message for the best match of the
// Accept-Language header.
func DenialMessage(acceptLanguage, page string, action Action) string {
	p := printerFor(acceptLanguage)
	verb := p.Sprintf(keyActionView)
	if action == ActionEdit {
		verb = p.Sprintf(keyActionEdit)
	}
	return p.Sprintf(keyDenied, verb, page)
}

// LoginRequiredMessage renders the Unauthorized message.
func LoginRequiredMessage(acceptLanguage string) string {
	return printerFor(acceptLanguage).Sprintf(keyLoginRequired)
}

func printerFor(acceptLanguage string) *message.Printer {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil {
		tags = nil
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return message.NewPrinter(supportedLanguages[idx])
}
