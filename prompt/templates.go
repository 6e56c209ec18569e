package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.txt
var defaultTemplates embed.FS

const (
	SystemTemplateFile     = "system_prompt.txt"
	IntentTemplateFile     = "intent_classification.txt"
	ExtractionTemplateFile = "filter_extraction.txt"
)

// Templates holds the prompt templates. They are loaded once at startup and
// never modified afterwards.
type Templates struct {
	System     string
	Intent     string
	Extraction string
}

// LoadTemplates returns the embedded defaults, replaced file by file with any
// template of the same name found in dir. An empty dir means defaults only.
func LoadTemplates(dir string) (*Templates, error) {
	t := &Templates{}
	for _, item := range []struct {
		name string
		dst  *string
	}{
		{SystemTemplateFile, &t.System},
		{IntentTemplateFile, &t.Intent},
		{ExtractionTemplateFile, &t.Extraction},
	} {
		text, err := loadOne(dir, item.name)
		if err != nil {
			return nil, err
		}
		*item.dst = text
	}
	return t, nil
}

// DefaultTemplates returns the embedded templates.
func DefaultTemplates() *Templates {
	t, err := LoadTemplates("")
	if err != nil {
		// embedded files are compiled in
		panic(err)
	}
	return t
}

func loadOne(dir, name string) (string, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		switch {
		case err == nil:
			return string(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}
	data, err := defaultTemplates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("read embedded template %s: %w", name, err)
	}
	return string(data), nil
}

// Render substitutes {name} placeholders. Placeholders without a value and
// any other braces (JSON examples) are left alone.
func Render(tpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
