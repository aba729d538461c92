// Package prompt renders the system and user prompts sent to a model for each
// chunk of a document.
//
// Templates use a small Jinja-like language:
//
//	{{ expr }}                       substitution
//	{{ xs | join(", ") }}            filters: join length count trim upper lower
//	                                 first last reverse replace default
//	{% if c %}…{% elif d %}…{% else %}…{% endif %}
//	{% for x in xs %}…{% else %}…{% endfor %}   (loop.index, loop.first, …)
//	{% set name = expr %}
//	{# comment #}
//	xs[-8:]  xs[0]  obj.key         slicing, indexing, attributes
//	{%- -%} {{- -}}                 trim surrounding whitespace
//
// Rendering is strict: an undefined variable, a filter applied to the wrong
// kind of value or a malformed tag is a *TemplateError and no partial output
// is returned. Substituted values are written verbatim and never parsed as
// template syntax. As in Jinja, a single trailing newline of the template is
// dropped.
package prompt

import (
	"strings"
)

// Vars binds template variable names to values. Supported value types are
// string, bool, ints, floats, []string, []interface{} and string-keyed maps.
type Vars map[string]interface{}

// Template is a parsed template, safe for concurrent Execute calls
type Template struct {
	src   string
	nodes []node
}

// Parse compiles src. Syntax errors, unknown filters and wrong filter arity
// are reported here.
func Parse(src string) (*Template, error) {
	body := src
	if strings.HasSuffix(body, "\r\n") {
		body = body[:len(body)-2]
	} else if strings.HasSuffix(body, "\n") {
		body = body[:len(body)-1]
	}

	nodes, err := parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{src: body, nodes: nodes}, nil
}

// Execute renders the template with vars
func (t *Template) Execute(vars Vars) (string, error) {
	ev := &evaluator{
		src:    t.src,
		vars:   vars,
		scopes: []map[string]interface{}{{}},
	}
	if err := ev.execBody(t.nodes); err != nil {
		return "", err
	}
	return ev.out.String(), nil
}

// Variables returns the names the template reads from its Vars, sorted
func (t *Template) Variables() []string {
	free := freeVariables(t.nodes)
	names := make([]string, len(free))
	for i, v := range free {
		names[i] = v.name
	}
	return names
}

// Source returns the template text as parsed
func (t *Template) Source() string {
	return t.src
}

// Render parses and executes tmpl in one step. It is pure: the same
// template and vars always produce the same output.
func Render(tmpl string, vars Vars) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return t.Execute(vars)
}

// Validate parses tmpl and, when allowed is non-empty, checks that it reads
// no variable outside allowed.
func Validate(tmpl string, allowed ...string) error {
	t, err := Parse(tmpl)
	if err != nil {
		return err
	}
	if len(allowed) == 0 {
		return nil
	}

	ok := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		ok[name] = true
	}
	for _, v := range freeVariables(t.nodes) {
		if !ok[v.name] {
			return newError(t.src, v.pos, KindUndefined,
				"unknown variable %q, available: %s", v.name, strings.Join(allowed, ", "))
		}
	}
	return nil
}
