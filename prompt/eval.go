package prompt

import (
	"sort"
	"strings"
)

type evaluator struct {
	src    string
	vars   Vars
	scopes []map[string]interface{}
	out    strings.Builder
}

func (ev *evaluator) errorf(pos int, kind ErrorKind, format string, args ...interface{}) error {
	return newError(ev.src, pos, kind, format, args...)
}

func (ev *evaluator) lookup(name string, pos int) (interface{}, bool, error) {
	for i := len(ev.scopes) - 1; i >= 0; i-- {
		if v, ok := ev.scopes[i][name]; ok {
			return v, true, nil
		}
	}
	raw, ok := ev.vars[name]
	if !ok {
		return nil, false, nil
	}
	v, err := normalize(raw)
	if err != nil {
		return nil, true, ev.errorf(pos, KindInvalidOperation, "variable %q: %v", name, err)
	}
	return v, true, nil
}

func (ev *evaluator) execBody(nodes []node) error {
	for _, n := range nodes {
		if err := ev.exec(n); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) exec(n node) error {
	switch n := n.(type) {
	case *textNode:
		ev.out.WriteString(n.text)

	case *outputNode:
		v, err := ev.eval(n.expr)
		if err != nil {
			return err
		}
		ev.out.WriteString(toOutput(v))

	case *ifNode:
		for _, br := range n.branches {
			cond, err := ev.eval(br.cond)
			if err != nil {
				return err
			}
			if truthy(cond) {
				return ev.execBody(br.body)
			}
		}
		return ev.execBody(n.elseBody)

	case *forNode:
		return ev.execFor(n)

	case *setNode:
		v, err := ev.eval(n.value)
		if err != nil {
			return err
		}
		ev.scopes[len(ev.scopes)-1][n.name] = v
	}
	return nil
}

func (ev *evaluator) execFor(n *forNode) error {
	seqVal, err := ev.eval(n.seq)
	if err != nil {
		return err
	}

	var items []interface{}
	switch s := seqVal.(type) {
	case []interface{}:
		items = s
	case string:
		for _, r := range s {
			items = append(items, string(r))
		}
	case map[string]interface{}:
		for _, k := range sortedKeys(s) {
			items = append(items, k)
		}
	default:
		return ev.errorf(n.seq.offset(), KindInvalidOperation, "cannot iterate over %s", typeName(seqVal))
	}

	if len(items) == 0 {
		return ev.execBody(n.elseBody)
	}

	for i, item := range items {
		scope := map[string]interface{}{
			n.varName: item,
			"loop": map[string]interface{}{
				"index":    i + 1,
				"index0":   i,
				"revindex": len(items) - i,
				"first":    i == 0,
				"last":     i == len(items)-1,
				"length":   len(items),
			},
		}
		ev.scopes = append(ev.scopes, scope)
		err := ev.execBody(n.body)
		ev.scopes = ev.scopes[:len(ev.scopes)-1]
		if err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) eval(e expr) (interface{}, error) {
	switch e := e.(type) {
	case *literalExpr:
		return e.val, nil

	case *nameExpr:
		v, ok, err := ev.lookup(e.name, e.pos)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ev.errorf(e.pos, KindUndefined, "undefined variable %q", e.name)
		}
		return v, nil

	case *listExpr:
		out := make([]interface{}, len(e.items))
		for i, item := range e.items {
			v, err := ev.eval(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *attrExpr:
		obj, err := ev.eval(e.obj)
		if err != nil {
			return nil, err
		}
		m, ok := obj.(map[string]interface{})
		if !ok {
			return nil, ev.errorf(e.pos, KindInvalidOperation, "%s has no attribute %q", typeName(obj), e.name)
		}
		v, ok := m[e.name]
		if !ok {
			return nil, ev.errorf(e.pos, KindUndefined, "undefined attribute %q", e.name)
		}
		return v, nil

	case *indexExpr:
		return ev.evalIndex(e)

	case *sliceExpr:
		return ev.evalSlice(e)

	case *filterExpr:
		return ev.evalFilter(e)

	case *testExpr:
		return ev.evalTest(e)

	case *unaryExpr:
		v, err := ev.eval(e.operand)
		if err != nil {
			return nil, err
		}
		if e.op == "not" {
			return !truthy(v), nil
		}
		switch x := v.(type) {
		case int:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, ev.errorf(e.pos, KindInvalidOperation, "cannot negate %s", typeName(v))

	case *binaryExpr:
		return ev.evalBinary(e)
	}
	return nil, ev.errorf(e.offset(), KindInvalidOperation, "unsupported expression")
}

func (ev *evaluator) evalIndex(e *indexExpr) (interface{}, error) {
	obj, err := ev.eval(e.obj)
	if err != nil {
		return nil, err
	}
	idx, err := ev.eval(e.index)
	if err != nil {
		return nil, err
	}

	switch o := obj.(type) {
	case []interface{}:
		i, ok := idx.(int)
		if !ok {
			return nil, ev.errorf(e.index.offset(), KindInvalidOperation, "list index must be an int, got %s", typeName(idx))
		}
		pos, ok := resolveIndex(i, len(o))
		if !ok {
			return nil, ev.errorf(e.pos, KindInvalidOperation, "index %d out of range for list of length %d", i, len(o))
		}
		return o[pos], nil
	case string:
		i, ok := idx.(int)
		if !ok {
			return nil, ev.errorf(e.index.offset(), KindInvalidOperation, "string index must be an int, got %s", typeName(idx))
		}
		r := []rune(o)
		pos, ok := resolveIndex(i, len(r))
		if !ok {
			return nil, ev.errorf(e.pos, KindInvalidOperation, "index %d out of range for string of length %d", i, len(r))
		}
		return string(r[pos]), nil
	case map[string]interface{}:
		key, ok := idx.(string)
		if !ok {
			return nil, ev.errorf(e.index.offset(), KindInvalidOperation, "map key must be a string, got %s", typeName(idx))
		}
		v, ok := o[key]
		if !ok {
			return nil, ev.errorf(e.pos, KindUndefined, "undefined key %q", key)
		}
		return v, nil
	}
	return nil, ev.errorf(e.pos, KindInvalidOperation, "cannot index %s", typeName(obj))
}

func (ev *evaluator) evalSlice(e *sliceExpr) (interface{}, error) {
	obj, err := ev.eval(e.obj)
	if err != nil {
		return nil, err
	}
	lo, err := ev.bound(e.lo)
	if err != nil {
		return nil, err
	}
	hi, err := ev.bound(e.hi)
	if err != nil {
		return nil, err
	}

	switch o := obj.(type) {
	case []interface{}:
		start, end := sliceBounds(lo, hi, len(o))
		out := make([]interface{}, end-start)
		copy(out, o[start:end])
		return out, nil
	case string:
		r := []rune(o)
		start, end := sliceBounds(lo, hi, len(r))
		return string(r[start:end]), nil
	}
	return nil, ev.errorf(e.pos, KindInvalidOperation, "cannot slice %s", typeName(obj))
}

func (ev *evaluator) bound(e expr) (*int, error) {
	if e == nil {
		return nil, nil
	}
	v, err := ev.eval(e)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case int:
		return &x, nil
	case nil:
		return nil, nil
	}
	return nil, ev.errorf(e.offset(), KindInvalidOperation, "slice bound must be an int, got %s", typeName(v))
}

// defined reports whether e resolves without an undefined error
func (ev *evaluator) defined(e expr) (interface{}, bool, error) {
	v, err := ev.eval(e)
	if err != nil {
		if te, ok := err.(*TemplateError); ok && te.Kind == KindUndefined {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (ev *evaluator) evalFilter(e *filterExpr) (interface{}, error) {
	var v interface{}
	var err error

	if e.name == "default" {
		var ok bool
		if v, ok, err = ev.defined(e.operand); err != nil {
			return nil, err
		}
		if !ok {
			return ev.eval(e.args[0])
		}
	} else if v, err = ev.eval(e.operand); err != nil {
		return nil, err
	}

	args := make([]interface{}, len(e.args))
	for i, a := range e.args {
		if args[i], err = ev.eval(a); err != nil {
			return nil, err
		}
	}

	out, err := filters[e.name].fn(v, args)
	if err != nil {
		return nil, ev.errorf(e.pos, KindInvalidOperation, "filter %s: %v", e.name, err)
	}
	return out, nil
}

func (ev *evaluator) evalTest(e *testExpr) (interface{}, error) {
	var result bool
	switch e.name {
	case "defined", "undefined":
		_, ok, err := ev.defined(e.operand)
		if err != nil {
			return nil, err
		}
		result = ok == (e.name == "defined")
	default:
		v, err := ev.eval(e.operand)
		if err != nil {
			return nil, err
		}
		result = testFuncs[e.name](v)
	}
	return result != e.negate, nil
}

func (ev *evaluator) evalBinary(e *binaryExpr) (interface{}, error) {
	left, err := ev.eval(e.left)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "and":
		if !truthy(left) {
			return left, nil
		}
		return ev.eval(e.right)
	case "or":
		if truthy(left) {
			return left, nil
		}
		return ev.eval(e.right)
	}

	right, err := ev.eval(e.right)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", ">", "<=", ">=":
		c, err := compare(left, right)
		if err != nil {
			return nil, ev.errorf(e.pos, KindInvalidOperation, "%v", err)
		}
		switch e.op {
		case "<":
			return c < 0, nil
		case ">":
			return c > 0, nil
		case "<=":
			return c <= 0, nil
		}
		return c >= 0, nil
	case "in", "not in":
		found, err := contains(right, left)
		if err != nil {
			return nil, ev.errorf(e.pos, KindInvalidOperation, "%v", err)
		}
		return found == (e.op == "in"), nil
	case "~":
		return toOutput(left) + toOutput(right), nil
	case "+", "-":
		return ev.arith(e, left, right)
	}
	return nil, ev.errorf(e.pos, KindInvalidOperation, "unsupported operator %q", e.op)
}

func (ev *evaluator) arith(e *binaryExpr, left, right interface{}) (interface{}, error) {
	li, lInt := left.(int)
	ri, rInt := right.(int)
	if lInt && rInt {
		if e.op == "+" {
			return li + ri, nil
		}
		return li - ri, nil
	}
	lf, lNum := asNumber(left)
	rf, rNum := asNumber(right)
	if lNum && rNum {
		if e.op == "+" {
			return lf + rf, nil
		}
		return lf - rf, nil
	}
	if e.op == "+" {
		ls, lStr := left.(string)
		rs, rStr := right.(string)
		if lStr && rStr {
			return ls + rs, nil
		}
		ll, lList := left.([]interface{})
		rl, rList := right.([]interface{})
		if lList && rList {
			out := make([]interface{}, 0, len(ll)+len(rl))
			return append(append(out, ll...), rl...), nil
		}
	}
	return nil, ev.errorf(e.pos, KindInvalidOperation, "unsupported operand types for %s: %s and %s",
		e.op, typeName(left), typeName(right))
}

type freeVar struct {
	name string
	pos  int // first read
}

// freeVariables lists names read before any set or for binds them
func freeVariables(nodes []node) []freeVar {
	free := map[string]int{}
	bound := []map[string]bool{{}}

	isBound := func(name string) bool {
		for _, b := range bound {
			if b[name] {
				return true
			}
		}
		return false
	}

	var walkExpr func(e expr)
	walkExpr = func(e expr) {
		switch e := e.(type) {
		case *nameExpr:
			if _, seen := free[e.name]; !seen && !isBound(e.name) {
				free[e.name] = e.pos
			}
		case *listExpr:
			for _, item := range e.items {
				walkExpr(item)
			}
		case *attrExpr:
			walkExpr(e.obj)
		case *indexExpr:
			walkExpr(e.obj)
			walkExpr(e.index)
		case *sliceExpr:
			walkExpr(e.obj)
			if e.lo != nil {
				walkExpr(e.lo)
			}
			if e.hi != nil {
				walkExpr(e.hi)
			}
		case *filterExpr:
			walkExpr(e.operand)
			for _, a := range e.args {
				walkExpr(a)
			}
		case *testExpr:
			walkExpr(e.operand)
		case *unaryExpr:
			walkExpr(e.operand)
		case *binaryExpr:
			walkExpr(e.left)
			walkExpr(e.right)
		}
	}

	var walk func(nodes []node)
	walk = func(nodes []node) {
		for _, n := range nodes {
			switch n := n.(type) {
			case *outputNode:
				walkExpr(n.expr)
			case *ifNode:
				for _, br := range n.branches {
					walkExpr(br.cond)
					walk(br.body)
				}
				walk(n.elseBody)
			case *forNode:
				walkExpr(n.seq)
				bound = append(bound, map[string]bool{n.varName: true, "loop": true})
				walk(n.body)
				bound = bound[:len(bound)-1]
				walk(n.elseBody)
			case *setNode:
				walkExpr(n.value)
				bound[len(bound)-1][n.name] = true
			}
		}
	}
	walk(nodes)

	vars := make([]freeVar, 0, len(free))
	for name, pos := range free {
		vars = append(vars, freeVar{name: name, pos: pos})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].name < vars[j].name })
	return vars
}
