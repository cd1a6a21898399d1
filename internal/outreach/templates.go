package outreach

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var embedded embed.FS

// Languages with a built-in template.
const (
	LangSwedish = "sv"
	LangEnglish = "en"
)

// LanguageFor returns the template language for a country.
func LanguageFor(country string) string {
	if strings.EqualFold(country, "se") {
		return LangSwedish
	}
	return LangEnglish
}

// TemplateData is the data available to message templates.
type TemplateData struct {
	CompanyName string
	OrgNumber   string
	TrusteeName string
	Country     string
	CountryName string
	FilingDate  string
	Sender      string
}

type templateFile struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates holds the parsed message template per language.
type Templates struct {
	byLang map[string]messageTemplate
}

// LoadTemplates parses the built-in templates. Files named <lang>.yaml in
// dir, when dir is set, replace the built-in template for that language.
func LoadTemplates(dir string) (*Templates, error) {
	t := &Templates{byLang: make(map[string]messageTemplate)}
	for _, lang := range []string{LangSwedish, LangEnglish} {
		raw, err := embedded.ReadFile("templates/" + lang + ".yaml")
		if err != nil {
			return nil, eris.Wrapf(err, "outreach: read built-in template %s", lang)
		}
		if err := t.add(lang, raw); err != nil {
			return nil, err
		}
	}
	if dir == "" {
		return t, nil
	}

	matches, err := fs.Glob(os.DirFS(dir), "*.yaml")
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: list templates in %s", dir)
	}
	for _, name := range matches {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "outreach: read template %s", name)
		}
		if err := t.add(strings.TrimSuffix(name, ".yaml"), raw); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Templates) add(lang string, raw []byte) error {
	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return eris.Wrapf(err, "outreach: parse template %s", lang)
	}
	if strings.TrimSpace(f.Subject) == "" || strings.TrimSpace(f.Body) == "" {
		return eris.Errorf("outreach: template %s needs subject and body", lang)
	}
	subj, err := template.New(lang + "/subject").Option("missingkey=error").Parse(f.Subject)
	if err != nil {
		return eris.Wrapf(err, "outreach: parse subject template %s", lang)
	}
	body, err := template.New(lang + "/body").Option("missingkey=error").Parse(f.Body)
	if err != nil {
		return eris.Wrapf(err, "outreach: parse body template %s", lang)
	}
	t.byLang[lang] = messageTemplate{subject: subj, body: body}
	return nil
}

// Render produces the subject and body for lang, falling back to English
// for a language without a template.
func (t *Templates) Render(lang string, data TemplateData) (subject, body string, err error) {
	mt, ok := t.byLang[lang]
	if !ok {
		mt, ok = t.byLang[LangEnglish]
	}
	if !ok {
		return "", "", eris.Errorf("outreach: no template for %s", lang)
	}
	var sb, bb bytes.Buffer
	if err := mt.subject.Execute(&sb, data); err != nil {
		return "", "", eris.Wrapf(err, "outreach: render subject %s", lang)
	}
	if err := mt.body.Execute(&bb, data); err != nil {
		return "", "", eris.Wrapf(err, "outreach: render body %s", lang)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(bb.String()) + "\n", nil
}
