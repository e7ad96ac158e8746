package prompttmpl

import (
	"strings"
	"text/template"
)

// MustParse parses an embedded prompt template. Templates are compiled into
// the binary, so a parse failure is a programming error.
func MustParse(name string, src string, funcs template.FuncMap) *template.Template {
	t := template.New(name).Option("missingkey=error")
	if funcs != nil {
		t = t.Funcs(funcs)
	}
	return template.Must(t.Parse(src))
}

func Render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
