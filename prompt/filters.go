package prompt

import (
	"fmt"
	"strings"
	"unicode"
)

type filterFunc func(v interface{}, args []interface{}) (interface{}, error)

type filterSpec struct {
	fn      filterFunc
	minArgs int
	maxArgs int
}

func (s filterSpec) arity() string {
	switch {
	case s.minArgs == s.maxArgs && s.maxArgs == 0:
		return "no arguments"
	case s.minArgs == s.maxArgs:
		return fmt.Sprintf("%d arguments", s.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", s.minArgs, s.maxArgs)
}

// filters is the fixed set available after '|'. default is evaluated
// specially so it can see undefined operands.
var filters = map[string]filterSpec{
	"join":    {fn: filterJoin, maxArgs: 1},
	"length":  {fn: filterLength},
	"count":   {fn: filterLength},
	"trim":    {fn: filterTrim, maxArgs: 1},
	"upper":   {fn: stringFilter(strings.ToUpper)},
	"lower":   {fn: stringFilter(strings.ToLower)},
	"first":   {fn: filterFirst},
	"last":    {fn: filterLast},
	"reverse": {fn: filterReverse},
	"replace": {fn: filterReplace, minArgs: 2, maxArgs: 2},
	"default": {fn: filterDefault, minArgs: 1, maxArgs: 2},
}

func filterJoin(v interface{}, args []interface{}) (interface{}, error) {
	seq, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("join expects a list, got %s", typeName(v))
	}
	sep := ""
	if len(args) == 1 {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("join separator must be a string, got %s", typeName(args[0]))
		}
		sep = s
	}
	parts := make([]string, len(seq))
	for i, item := range seq {
		parts[i] = toOutput(item)
	}
	return strings.Join(parts, sep), nil
}

func filterLength(v interface{}, _ []interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return len([]rune(x)), nil
	case []interface{}:
		return len(x), nil
	case map[string]interface{}:
		return len(x), nil
	}
	return nil, fmt.Errorf("length expects a string, list or map, got %s", typeName(v))
}

func filterTrim(v interface{}, args []interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("trim expects a string, got %s", typeName(v))
	}
	if len(args) == 0 {
		return strings.TrimFunc(s, unicode.IsSpace), nil
	}
	cutset, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("trim characters must be a string, got %s", typeName(args[0]))
	}
	return strings.Trim(s, cutset), nil
}

func stringFilter(fn func(string) string) filterFunc {
	return func(v interface{}, _ []interface{}) (interface{}, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", typeName(v))
		}
		return fn(s), nil
	}
}

func filterFirst(v interface{}, _ []interface{}) (interface{}, error) {
	return pick(v, 0)
}

func filterLast(v interface{}, _ []interface{}) (interface{}, error) {
	return pick(v, -1)
}

func pick(v interface{}, i int) (interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		idx, ok := resolveIndex(i, len(x))
		if !ok {
			return nil, fmt.Errorf("empty list has no element")
		}
		return x[idx], nil
	case string:
		r := []rune(x)
		idx, ok := resolveIndex(i, len(r))
		if !ok {
			return nil, fmt.Errorf("empty string has no character")
		}
		return string(r[idx]), nil
	}
	return nil, fmt.Errorf("expected a list or string, got %s", typeName(v))
}

func filterReverse(v interface{}, _ []interface{}) (interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[len(x)-1-i] = item
		}
		return out, nil
	case string:
		r := []rune(x)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	}
	return nil, fmt.Errorf("reverse expects a list or string, got %s", typeName(v))
}

func filterReplace(v interface{}, args []interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("replace expects a string, got %s", typeName(v))
	}
	old, ok1 := args[0].(string)
	repl, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("replace arguments must be strings")
	}
	return strings.ReplaceAll(s, old, repl), nil
}

// filterDefault handles defined operands; undefined ones never reach it.
// With a truthy second argument falsy values are replaced too.
func filterDefault(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) == 2 && truthy(args[1]) && !truthy(v) {
		return args[0], nil
	}
	return v, nil
}

type testFunc func(v interface{}) bool

// tests are used with 'is'. defined and undefined are evaluated specially.
var testFuncs = map[string]testFunc{
	"defined":   nil,
	"undefined": nil,
	"none":      func(v interface{}) bool { return v == nil },
	"string": func(v interface{}) bool {
		_, ok := v.(string)
		return ok
	},
	"number": func(v interface{}) bool {
		_, ok := asNumber(v)
		return ok
	},
	"sequence": func(v interface{}) bool {
		switch v.(type) {
		case []interface{}, string:
			return true
		}
		return false
	},
	"mapping": func(v interface{}) bool {
		_, ok := v.(map[string]interface{})
		return ok
	},
}
