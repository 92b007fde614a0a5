package expr

import (
	"sync"
)

// Interpreter evaluates playbook DSL expressions against a Context. It keeps
// a parse cache keyed by source string, so each unique expression in a
// playbook is parsed once and then re-evaluated from its AST every cycle.
// An Interpreter is safe for concurrent use; one is shared by all instances.
type Interpreter struct {
	mu    sync.RWMutex
	cache map[string]parseResult
}

type parseResult struct {
	ast node
	err error
}

// NewInterpreter creates a new Interpreter with an empty parse cache.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		cache: make(map[string]parseResult),
	}
}

// Evaluate parses (or fetches from cache) and evaluates one expression
// against the context, returning its float value or an EvalError.
func (i *Interpreter) Evaluate(src string, ctx Context) (float64, error) {
	ast, err := i.parse(src)
	if err != nil {
		return 0, err
	}

	return evalNode(ast, ctx)
}

// Check parses the expression without evaluating it. Playbook validation
// uses it to reject disallowed syntax at load time, before any cycle runs.
func (i *Interpreter) Check(src string) error {
	_, err := i.parse(src)

	return err
}

// References reports every dotted reference the expression resolves, so
// validation can cross-check variable and indicator declarations statically.
func (i *Interpreter) References(src string) ([]Reference, error) {
	ast, err := i.parse(src)
	if err != nil {
		return nil, err
	}

	var refs []Reference

	collectRefs(ast, &refs)

	return refs, nil
}

// Reference is one resolved dotted path inside an expression.
type Reference struct {
	// Root is the first segment: ind, prev, var, trade, risk, or _price.
	Root string
	// ID is the indicator id or variable/field name. Empty for _price.
	ID string
	// Field is the indicator field for ind/prev roots.
	Field string
}

func collectRefs(n node, out *[]Reference) {
	switch nn := n.(type) {
	case *numberNode:
	case *unaryNode:
		collectRefs(nn.operand, out)
	case *binaryNode:
		collectRefs(nn.left, out)
		collectRefs(nn.right, out)
	case *refNode:
		ref := Reference{ID: nn.id, Field: nn.field}

		switch nn.root {
		case refPrice:
			ref.Root = PriceIdent
		case refIndicator:
			ref.Root = "ind"
		case refPrev:
			ref.Root = "prev"
		case refVar:
			ref.Root = "var"
		case refTrade:
			ref.Root = "trade"
		case refRisk:
			ref.Root = "risk"
		}

		*out = append(*out, ref)
	}
}

func (i *Interpreter) parse(src string) (node, error) {
	i.mu.RLock()
	cached, ok := i.cache[src]
	i.mu.RUnlock()

	if ok {
		return cached.ast, cached.err
	}

	ast, err := parse(src)

	i.mu.Lock()
	i.cache[src] = parseResult{ast: ast, err: err}
	i.mu.Unlock()

	return ast, err
}
