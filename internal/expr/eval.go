package expr

import (
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// evalNode walks the AST with an exhaustive match over the closed node set.
// The default branch is unreachable unless a new node type is added without
// extending the evaluator; it fails loudly instead of guessing.
func evalNode(n node, ctx Context) (float64, error) {
	switch nn := n.(type) {
	case *numberNode:
		return nn.value, nil

	case *unaryNode:
		v, err := evalNode(nn.operand, ctx)
		if err != nil {
			return 0, err
		}

		if nn.op.kind == tokenMinus {
			return -v, nil
		}

		return v, nil

	case *binaryNode:
		left, err := evalNode(nn.left, ctx)
		if err != nil {
			return 0, err
		}

		right, err := evalNode(nn.right, ctx)
		if err != nil {
			return 0, err
		}

		switch nn.op.kind {
		case tokenPlus:
			return left + right, nil
		case tokenMinus:
			return left - right, nil
		case tokenStar:
			return left * right, nil
		case tokenSlash:
			if right == 0 {
				return 0, NewEvalError(EvalErrorDivisionByZero, nn.op.text, nn.op.pos, "division by zero")
			}

			return left / right, nil
		default:
			return 0, errors.Newf(errors.ErrCodeInvariantViolation, "binary node carries non-arithmetic operator %q", nn.op.text)
		}

	case *refNode:
		return resolveRef(nn, ctx)

	default:
		return 0, errors.Newf(errors.ErrCodeInvariantViolation, "unknown expression node kind %q", n.nodeKind())
	}
}

func resolveRef(ref *refNode, ctx Context) (float64, error) {
	switch ref.root {
	case refPrice:
		if !ctx.HasPrice {
			return 0, NewEvalError(EvalErrorUnresolvedReference, ref.raw, ref.pos, "no current price in context")
		}

		return ctx.Price, nil

	case refIndicator:
		return lookupIndicator(ctx.Indicators, ref)

	case refPrev:
		return lookupIndicator(ctx.Prev, ref)

	case refVar:
		value, ok := ctx.Vars[ref.id]
		if !ok {
			return 0, NewEvalErrorf(EvalErrorUnresolvedReference, ref.raw, ref.pos, "variable %q is not defined", ref.id)
		}

		return value, nil

	case refTrade:
		value, ok := ctx.Trade[ref.id]
		if !ok {
			return 0, NewEvalErrorf(EvalErrorUnresolvedReference, ref.raw, ref.pos, "no open trade field %q", ref.id)
		}

		return value, nil

	case refRisk:
		value, ok := ctx.Risk[ref.id]
		if !ok {
			return 0, NewEvalErrorf(EvalErrorUnresolvedReference, ref.raw, ref.pos, "risk profile has no field %q", ref.id)
		}

		return value, nil

	default:
		return 0, errors.Newf(errors.ErrCodeInvariantViolation, "unknown reference root %d", ref.root)
	}
}

func lookupIndicator(values map[string]map[string]float64, ref *refNode) (float64, error) {
	fields, ok := values[ref.id]
	if !ok {
		return 0, NewEvalErrorf(EvalErrorUnresolvedReference, ref.raw, ref.pos, "indicator %q has no value", ref.id)
	}

	value, ok := fields[ref.field]
	if !ok {
		return 0, NewEvalErrorf(EvalErrorUnresolvedReference, ref.raw, ref.pos, "indicator %q has no field %q", ref.id, ref.field)
	}

	return value, nil
}
