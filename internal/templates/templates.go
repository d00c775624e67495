// Package templates holds the message template catalog and the
// {{variable}} placeholder handling used when composing and sending.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var ErrUnknownTemplate = errors.New("unknown template")

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

type Template struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Preview string `yaml:"preview" json:"preview"`
}

type Catalog struct {
	items []Template
	byID  map[string]int
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// Default returns the catalog bundled with the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded template catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, falling back to the bundled one for an empty path.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(f.Templates))}
	for _, t := range f.Templates {
		if t.ID == "" {
			return nil, errors.New("template without id")
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		c.byID[t.ID] = len(c.items)
		c.items = append(c.items, t)
	}
	return c, nil
}

func (c *Catalog) List() []Template {
	return append([]Template(nil), c.items...)
}

func (c *Catalog) Get(id string) (Template, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Template{}, false
	}
	return c.items[i], true
}

// Compose builds the message for a catalog template.
func (c *Catalog) Compose(id string) (model.Message, error) {
	t, ok := c.Get(id)
	if !ok {
		return model.Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	m := NewMessage(t.Preview)
	m.TemplateID = t.ID
	return m, nil
}

// NewMessage builds a free-text message.
func NewMessage(content string) model.Message {
	return model.Message{
		Content:        content,
		Variables:      ExtractVariables(content),
		CharacterCount: utf8.RuneCountInString(content),
	}
}

// ExtractVariables lists placeholder names in order of appearance.
func ExtractVariables(text string) []string {
	matches := placeholder.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}

// Render substitutes vars into text. Placeholders without a value are kept.
func Render(text string, vars map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
