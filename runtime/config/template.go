package config

import (
	"strings"
	"text/template"

	"github.com/tensorzero/gateway/runtime/errors"
)

// NewTemplate builds a Template from literal text, bypassing file loading.
// Used directly by tests and by callers assembling templates from sources
// other than the config file (e.g. inline request-scoped templates).
func NewTemplate(name, text string) *Template {
	return &Template{Name: name, text: text}
}

func renderTemplate(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", errors.Wrap(errors.KindConfig, err, "failed to parse %s template", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(errors.KindInternalError, err, "failed to render %s template", name)
	}
	return sb.String(), nil
}
