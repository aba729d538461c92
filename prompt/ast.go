package prompt

type node interface{}

type textNode struct {
	text string
}

type outputNode struct {
	expr expr
	pos  int
}

type ifBranch struct {
	cond expr
	body []node
}

type ifNode struct {
	branches []ifBranch
	elseBody []node
}

type forNode struct {
	varName  string
	seq      expr
	body     []node
	elseBody []node
	pos      int
}

type setNode struct {
	name  string
	value expr
}

type expr interface {
	offset() int
}

type nameExpr struct {
	name string
	pos  int
}

type literalExpr struct {
	val interface{}
	pos int
}

type listExpr struct {
	items []expr
	pos   int
}

type attrExpr struct {
	obj  expr
	name string
	pos  int
}

type indexExpr struct {
	obj   expr
	index expr
	pos   int
}

type sliceExpr struct {
	obj    expr
	lo, hi expr // nil means open
	pos    int
}

type filterExpr struct {
	operand expr
	name    string
	args    []expr
	pos     int
}

type testExpr struct {
	operand expr
	name    string
	negate  bool
	pos     int
}

type unaryExpr struct {
	op      string
	operand expr
	pos     int
}

type binaryExpr struct {
	op          string
	left, right expr
	pos         int
}

func (e *nameExpr) offset() int    { return e.pos }
func (e *literalExpr) offset() int { return e.pos }
func (e *listExpr) offset() int    { return e.pos }
func (e *attrExpr) offset() int    { return e.pos }
func (e *indexExpr) offset() int   { return e.pos }
func (e *sliceExpr) offset() int   { return e.pos }
func (e *filterExpr) offset() int  { return e.pos }
func (e *testExpr) offset() int    { return e.pos }
func (e *unaryExpr) offset() int   { return e.pos }
func (e *binaryExpr) offset() int  { return e.pos }
