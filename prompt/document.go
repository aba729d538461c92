package prompt

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/tren/errors"
)

// Document is a prompt file: optional YAML frontmatter followed by a template body.
//
//	---
//	name: formal-fr
//	type: system
//	description: Formal register for French legal text
//	---
//	You are a legal translator …
type Document struct {
	Metadata Metadata
	Body     string
}

// Metadata holds the frontmatter of a prompt file
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Version     string   `yaml:"version,omitempty"`
	Type        string   `yaml:"type,omitempty"` // "system" or "user"
	Variables   []string `yaml:"variables,omitempty"`
}

// Prompt types accepted in frontmatter
const (
	TypeSystem = "system"
	TypeUser   = "user"
)

const frontmatterDelim = "---"

// ParseDocument splits frontmatter from body and checks the body compiles
// against the variables its type allows.
func ParseDocument(content string) (*Document, error) {
	doc := &Document{Body: content}

	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if strings.HasPrefix(trimmed, frontmatterDelim+"\n") || strings.HasPrefix(trimmed, frontmatterDelim+"\r\n") {
		rest := trimmed[strings.IndexByte(trimmed, '\n')+1:]
		end := strings.Index(rest, "\n"+frontmatterDelim)
		if end < 0 {
			return nil, errors.New("frontmatter is not closed with ---")
		}

		if err := yaml.Unmarshal([]byte(rest[:end]), &doc.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to parse frontmatter YAML")
		}

		body := rest[end+1+len(frontmatterDelim):]
		body = strings.TrimPrefix(body, "\r")
		doc.Body = strings.TrimPrefix(body, "\n")
	}

	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) validate() error {
	var allowed []string
	switch d.Metadata.Type {
	case "":
	case TypeSystem:
		allowed = SystemVariables
	case TypeUser:
		allowed = UserVariables
	default:
		return errors.Newf("unknown prompt type %q (expected %q or %q)", d.Metadata.Type, TypeSystem, TypeUser)
	}

	if strings.TrimSpace(d.Body) == "" {
		return errors.New("prompt body is empty")
	}
	if err := Validate(d.Body, allowed...); err != nil {
		return errors.Wrapf(err, "prompt %q", d.Metadata.Name)
	}

	if len(d.Metadata.Variables) > 0 {
		t, _ := Parse(d.Body)
		declared := make(map[string]bool, len(d.Metadata.Variables))
		for _, v := range d.Metadata.Variables {
			declared[v] = true
		}
		for _, used := range t.Variables() {
			if !declared[used] {
				return errors.Newf("prompt %q uses %q but does not declare it in variables", d.Metadata.Name, used)
			}
		}
	}
	return nil
}
