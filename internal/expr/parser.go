package expr

import (
	"strconv"
	"strings"
)

// PriceIdent is the only bare identifier the grammar accepts; it resolves to
// the current mid price of the evaluation context.
const PriceIdent = "_price"

type parser struct {
	tokens []token
	pos    int
}

// parse turns one expression source string into an AST, rejecting anything
// outside the whitelist grammar: numeric literals, unary +/-, binary
// + - * / with parentheses, and dotted references.
func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, NewEvalError(EvalErrorDisallowedSyntax, "", 0, "empty expression")
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	n, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokenEOF {
		if tok.kind.isComparison() {
			return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, tok.text, tok.pos, "comparison operators are not allowed inside an expression, split the rule into left/right")
		}

		return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, tok.text, tok.pos, "unexpected token after expression")
	}

	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind != tokenPlus && tok.kind != tokenMinus {
			return left, nil
		}

		p.next()

		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: tok, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind != tokenStar && tok.kind != tokenSlash {
			return left, nil
		}

		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: tok, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokenPlus || tok.kind == tokenMinus {
		p.next()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: tok, operand: operand}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, tok.text, tok.pos, "invalid numeric literal")
		}

		return &numberNode{value: value}, nil

	case tokenLParen:
		inner, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}

		if closing := p.next(); closing.kind != tokenRParen {
			return nil, NewEvalError(EvalErrorDisallowedSyntax, closing.text, closing.pos, "missing closing parenthesis")
		}

		return inner, nil

	case tokenIdent:
		return p.parseReference(tok)

	case tokenEOF:
		return nil, NewEvalError(EvalErrorDisallowedSyntax, "", tok.pos, "unexpected end of expression")

	default:
		return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, tok.text, tok.pos, "unexpected token")
	}
}

// parseReference consumes the dotted segments after the leading identifier
// and validates the chain shape. ind/prev references take exactly three
// segments, var/trade/risk exactly two; the only bare identifier is _price.
func (p *parser) parseReference(first token) (node, error) {
	segments := []string{first.text}

	for p.peek().kind == tokenDot {
		p.next()

		seg := p.next()
		if seg.kind != tokenIdent {
			return nil, NewEvalError(EvalErrorDisallowedSyntax, seg.text, seg.pos, "expected field name after '.'")
		}

		segments = append(segments, seg.text)
	}

	// ident followed by ( is call syntax, rejected before resolving anything
	if tok := p.peek(); tok.kind == tokenLParen {
		return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, first.text, tok.pos, "function calls are not allowed")
	}

	raw := strings.Join(segments, ".")

	switch segments[0] {
	case "ind", "prev":
		if len(segments) != 3 {
			return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, raw, first.pos, "%s references take the form %s.<id>.<field>", segments[0], segments[0])
		}

		root := refIndicator
		if segments[0] == "prev" {
			root = refPrev
		}

		return &refNode{root: root, id: segments[1], field: segments[2], raw: raw, pos: first.pos}, nil

	case "var", "trade", "risk":
		if len(segments) != 2 {
			return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, raw, first.pos, "%s references take the form %s.<name>", segments[0], segments[0])
		}

		var root refRoot

		switch segments[0] {
		case "var":
			root = refVar
		case "trade":
			root = refTrade
		default:
			root = refRisk
		}

		return &refNode{root: root, id: segments[1], raw: raw, pos: first.pos}, nil

	default:
		if len(segments) == 1 && segments[0] == PriceIdent {
			return &refNode{root: refPrice, raw: raw, pos: first.pos}, nil
		}

		return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, raw, first.pos, "unknown identifier %q", raw)
	}
}
