package expr

// The AST is a closed set of node types. The evaluator matches over them
// exhaustively; there is no escape hatch into reflection or a host-language
// evaluator, which is what makes the DSL safe to run against untrusted
// playbook documents.

type node interface {
	nodeKind() string
}

type numberNode struct {
	value float64
}

func (*numberNode) nodeKind() string { return "number" }

type unaryNode struct {
	op      token
	operand node
}

func (*unaryNode) nodeKind() string { return "unary" }

type binaryNode struct {
	op    token
	left  node
	right node
}

func (*binaryNode) nodeKind() string { return "binary" }

// refRoot is the first segment of a dotted reference, fixing both the data
// source and the required segment count.
type refRoot int

const (
	refPrice refRoot = iota // bare _price
	refIndicator
	refPrev
	refVar
	refTrade
	refRisk
)

type refNode struct {
	root refRoot
	// id is the indicator id for ind/prev roots, or the variable/field name
	// for var/trade/risk roots. Empty for refPrice.
	id    string
	field string
	raw   string
	pos   int
}

func (*refNode) nodeKind() string { return "ref" }
