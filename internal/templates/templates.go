package templates

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/goshlabs/onboarding-pipeline/internal/domain/notification"
)

//go:embed files/*.tmpl
var files embed.FS

// Rendered is a notification ready to persist: subject, plain text and
// an optional HTML variant.
type Rendered struct {
	Subject string
	Content string
	HTML    string
}

type entry struct {
	subject *template.Template
	text    *template.Template
	html    *template.Template // nil when the intent has no rich variant
}

type Set struct {
	byIntent map[notification.Intent]*entry
}

var subjects = map[notification.Intent]string{
	notification.IntentDaoInvite:          "You have been invited to the {{.dao}} DAO",
	notification.IntentOnboardingFinished: "Your repositories are ready",
	notification.IntentOnboardingRename:   "Your username has changed",
	notification.IntentWelcomeHighDemand:  "Welcome aboard, {{.username}}",
}

var htmlVariants = map[notification.Intent]bool{
	notification.IntentDaoInvite:         true,
	notification.IntentWelcomeHighDemand: true,
}

// Load parses the embedded per-intent templates once at startup.
func Load() (*Set, error) {
	s := &Set{byIntent: make(map[notification.Intent]*entry, len(subjects))}
	for intent, subj := range subjects {
		st, err := template.New(string(intent) + ".subject").Parse(subj)
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", intent, err)
		}
		tt, err := template.ParseFS(files, "files/"+string(intent)+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse text %s: %w", intent, err)
		}
		e := &entry{subject: st, text: tt}
		if htmlVariants[intent] {
			ht, err := template.ParseFS(files, "files/"+string(intent)+".html.tmpl")
			if err != nil {
				return nil, fmt.Errorf("parse html %s: %w", intent, err)
			}
			e.html = ht
		}
		s.byIntent[intent] = e
	}
	return s, nil
}

func (s *Set) Render(intent notification.Intent, vars map[string]string) (Rendered, error) {
	e, ok := s.byIntent[intent]
	if !ok {
		return Rendered{}, fmt.Errorf("no template for intent %q", intent)
	}

	subject, err := execute(e.subject, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("render subject %s: %w", intent, err)
	}
	content, err := execute(e.text, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("render text %s: %w", intent, err)
	}
	out := Rendered{Subject: strings.TrimSpace(subject), Content: content}
	if e.html != nil {
		html, err := execute(e.html, vars)
		if err != nil {
			return Rendered{}, fmt.Errorf("render html %s: %w", intent, err)
		}
		out.HTML = html
	}
	return out, nil
}

func execute(t *template.Template, vars map[string]string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}
