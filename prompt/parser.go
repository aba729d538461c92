package prompt

import (
	"strconv"
)

type parser struct {
	src  string
	segs []segment
	i    int

	// tokens of the tag currently being parsed
	toks []token
	t    int
}

func parse(src string) ([]node, error) {
	segs, err := splitSegments(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, segs: segs}
	nodes, _, err := p.parseBody(-1)
	return nodes, err
}

// parseBody collects nodes until one of the terminator tags. It returns the
// terminator found with p.toks positioned just after its keyword.
func (p *parser) parseBody(openPos int, terminators ...string) ([]node, string, error) {
	var nodes []node
	for p.i < len(p.segs) {
		seg := p.segs[p.i]
		p.i++

		switch seg.kind {
		case segText:
			nodes = append(nodes, &textNode{text: seg.text})

		case segVar:
			if err := p.load(seg); err != nil {
				return nil, "", err
			}
			e, err := p.parseExprToEnd()
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, &outputNode{expr: e, pos: seg.pos})

		case segBlock:
			if err := p.load(seg); err != nil {
				return nil, "", err
			}
			kw := p.peek()
			if kw.typ != tName {
				return nil, "", p.errorf(kw.pos, "expected a tag name")
			}
			p.t++

			for _, term := range terminators {
				if kw.val == term {
					return nodes, term, nil
				}
			}

			var n node
			var err error
			switch kw.val {
			case "if":
				n, err = p.parseIf(kw.pos)
			case "for":
				n, err = p.parseFor(kw.pos)
			case "set":
				n, err = p.parseSet()
			case "elif", "else", "endif", "endfor":
				err = p.errorf(kw.pos, "unexpected {%% %s %%}", kw.val)
			default:
				err = p.errorf(kw.pos, "unknown tag %q", kw.val)
			}
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, n)
		}
	}

	if len(terminators) > 0 {
		return nil, "", p.errorf(openPos, "unexpected end of template, expected {%% %s %%}", terminators[len(terminators)-1])
	}
	return nodes, "", nil
}

func (p *parser) parseIf(pos int) (node, error) {
	n := &ifNode{}
	cond, err := p.parseExprToEnd()
	if err != nil {
		return nil, err
	}

	for {
		body, term, err := p.parseBody(pos, "elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, ifBranch{cond: cond, body: body})

		switch term {
		case "elif":
			if cond, err = p.parseExprToEnd(); err != nil {
				return nil, err
			}
		case "else":
			if err := p.expectEnd(); err != nil {
				return nil, err
			}
			if n.elseBody, _, err = p.parseBody(pos, "endif"); err != nil {
				return nil, err
			}
			return n, p.expectEnd()
		default:
			return n, p.expectEnd()
		}
	}
}

func (p *parser) parseFor(pos int) (node, error) {
	name := p.peek()
	if name.typ != tName {
		return nil, p.errorf(name.pos, "expected loop variable name")
	}
	p.t++
	if in := p.peek(); in.typ != tName || in.val != "in" {
		return nil, p.errorf(in.pos, "expected 'in' after loop variable")
	}
	p.t++

	seq, err := p.parseExprToEnd()
	if err != nil {
		return nil, err
	}

	n := &forNode{varName: name.val, seq: seq, pos: pos}
	body, term, err := p.parseBody(pos, "else", "endfor")
	if err != nil {
		return nil, err
	}
	n.body = body
	if term == "else" {
		if err := p.expectEnd(); err != nil {
			return nil, err
		}
		if n.elseBody, _, err = p.parseBody(pos, "endfor"); err != nil {
			return nil, err
		}
	}
	return n, p.expectEnd()
}

func (p *parser) parseSet() (node, error) {
	name := p.peek()
	if name.typ != tName {
		return nil, p.errorf(name.pos, "expected variable name after set")
	}
	p.t++
	if eq := p.peek(); !eq.is("=") {
		return nil, p.errorf(eq.pos, "expected '=' in set")
	}
	p.t++

	value, err := p.parseExprToEnd()
	if err != nil {
		return nil, err
	}
	return &setNode{name: name.val, value: value}, nil
}

func (p *parser) load(seg segment) error {
	toks, err := tokenize(p.src, seg)
	if err != nil {
		return err
	}
	p.toks, p.t = toks, 0
	return nil
}

func (p *parser) peek() token { return p.toks[p.t] }

func (p *parser) next() token {
	tok := p.toks[p.t]
	if tok.typ != tEOF {
		p.t++
	}
	return tok
}

func (p *parser) expectEnd() error {
	if tok := p.peek(); tok.typ != tEOF {
		return p.errorf(tok.pos, "unexpected %s at end of tag", tok.describe())
	}
	return nil
}

func (p *parser) expectOp(op string) error {
	tok := p.next()
	if !tok.is(op) {
		return p.errorf(tok.pos, "expected %q, found %s", op, tok.describe())
	}
	return nil
}

func (p *parser) errorf(pos int, format string, args ...interface{}) error {
	return newError(p.src, pos, KindSyntax, format, args...)
}

func (t token) is(op string) bool { return t.typ == tOp && t.val == op }

func (t token) isName(name string) bool { return t.typ == tName && t.val == name }

func (t token) describe() string {
	if t.typ == tEOF {
		return "end of tag"
	}
	return strconv.Quote(t.val)
}

func (p *parser) parseExprToEnd() (expr, error) {
	if p.peek().typ == tEOF {
		return nil, p.errorf(p.peek().pos, "expected an expression")
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return e, p.expectEnd()
}

func (p *parser) parseExpr() (expr, error) { return p.parseOr() }

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().isName("or") {
		pos := p.next().pos
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().isName("and") {
		pos := p.next().pos
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.peek().isName("not") {
		pos := p.next().pos
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", operand: operand, pos: pos}, nil
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseCompare() (expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		var op string
		switch {
		case tok.typ == tOp && compareOps[tok.val]:
			op = tok.val
			p.t++
		case tok.isName("in"):
			op = "in"
			p.t++
		case tok.isName("not") && p.toks[p.t+1].isName("in"):
			op = "not in"
			p.t += 2
		case tok.isName("is"):
			p.t++
			negate := false
			if p.peek().isName("not") {
				negate = true
				p.t++
			}
			name := p.next()
			if name.typ != tName {
				return nil, p.errorf(name.pos, "expected test name after 'is'")
			}
			if _, ok := testFuncs[name.val]; !ok {
				return nil, newError(p.src, name.pos, KindUnknownFilter, "unknown test %q", name.val)
			}
			left = &testExpr{operand: left, name: name.val, negate: negate, pos: tok.pos}
			continue
		default:
			return left, nil
		}

		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right, pos: tok.pos}
	}
}

func (p *parser) parseConcat() (expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().is("~") {
		pos := p.next().pos
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "~", left: left, right: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseAdditive() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().is("+") || p.peek().is("-") {
		tok := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: tok.val, left: left, right: right, pos: tok.pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().is("-") {
		pos := p.next().pos
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "-", operand: operand, pos: pos}, nil
	}
	return p.parseFiltered()
}

func (p *parser) parseFiltered() (expr, error) {
	e, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for p.peek().is("|") {
		pipe := p.next()
		name := p.next()
		if name.typ != tName {
			return nil, p.errorf(name.pos, "expected filter name after '|'")
		}
		spec, ok := filters[name.val]
		if !ok {
			return nil, newError(p.src, name.pos, KindUnknownFilter, "unknown filter %q", name.val)
		}

		var args []expr
		if p.peek().is("(") {
			p.t++
			if args, err = p.parseArgs(")"); err != nil {
				return nil, err
			}
		}
		if len(args) < spec.minArgs || len(args) > spec.maxArgs {
			return nil, newError(p.src, name.pos, KindInvalidOperation,
				"filter %q takes %s, got %d", name.val, spec.arity(), len(args))
		}
		e = &filterExpr{operand: e, name: name.val, args: args, pos: pipe.pos}
	}
	return e, nil
}

// parseArgs parses a comma separated expression list up to the closing op
func (p *parser) parseArgs(closing string) ([]expr, error) {
	var args []expr
	if p.peek().is(closing) {
		p.t++
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.next()
		if tok.is(closing) {
			return args, nil
		}
		if !tok.is(",") {
			return nil, p.errorf(tok.pos, "expected ',' or %q, found %s", closing, tok.describe())
		}
	}
}

func (p *parser) parsePostfix() (expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch {
		case tok.is("["):
			p.t++
			if e, err = p.parseSubscript(e, tok.pos); err != nil {
				return nil, err
			}
		case tok.is("."):
			p.t++
			name := p.next()
			if name.typ != tName {
				return nil, p.errorf(name.pos, "expected attribute name after '.'")
			}
			e = &attrExpr{obj: e, name: name.val, pos: name.pos}
		case tok.is("("):
			return nil, p.errorf(tok.pos, "function calls are not supported")
		default:
			return e, nil
		}
	}
}

func (p *parser) parseSubscript(obj expr, pos int) (expr, error) {
	var lo, hi expr
	var err error

	if !p.peek().is(":") {
		if lo, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if p.peek().is("]") {
			p.t++
			return &indexExpr{obj: obj, index: lo, pos: pos}, nil
		}
	}

	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if !p.peek().is("]") {
		if hi, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &sliceExpr{obj: obj, lo: lo, hi: hi, pos: pos}, nil
}

func (p *parser) parsePrimary() (expr, error) {
	tok := p.next()
	switch tok.typ {
	case tName:
		switch tok.val {
		case "true", "True":
			return &literalExpr{val: true, pos: tok.pos}, nil
		case "false", "False":
			return &literalExpr{val: false, pos: tok.pos}, nil
		case "none", "None":
			return &literalExpr{val: nil, pos: tok.pos}, nil
		case "and", "or", "not", "in", "is":
			return nil, p.errorf(tok.pos, "unexpected keyword %q", tok.val)
		}
		return &nameExpr{name: tok.val, pos: tok.pos}, nil

	case tString:
		return &literalExpr{val: tok.val, pos: tok.pos}, nil

	case tInt:
		n, err := strconv.Atoi(tok.val)
		if err != nil {
			return nil, p.errorf(tok.pos, "invalid integer %s", tok.val)
		}
		return &literalExpr{val: n, pos: tok.pos}, nil

	case tFloat:
		f, err := strconv.ParseFloat(tok.val, 64)
		if err != nil {
			return nil, p.errorf(tok.pos, "invalid number %s", tok.val)
		}
		return &literalExpr{val: f, pos: tok.pos}, nil

	case tOp:
		switch tok.val {
		case "(":
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return e, p.expectOp(")")
		case "[":
			items, err := p.parseArgs("]")
			if err != nil {
				return nil, err
			}
			return &listExpr{items: items, pos: tok.pos}, nil
		}
	}
	return nil, p.errorf(tok.pos, "unexpected %s", tok.describe())
}
