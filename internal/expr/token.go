package expr

import "unicode"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenDot
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
	tokenLess
	tokenGreater
	tokenLessEqual
	tokenGreaterEqual
	tokenEqual
	tokenNotEqual
)

func (k tokenKind) isComparison() bool {
	switch k {
	case tokenLess, tokenGreater, tokenLessEqual, tokenGreaterEqual, tokenEqual, tokenNotEqual:
		return true
	default:
		return false
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex scans src into a flat token stream terminated by an EOF token. Any
// character outside the whitelist grammar is rejected immediately; nothing
// unknown ever reaches the parser.
func lex(src string) ([]token, error) {
	tokens := make([]token, 0, 16)
	i := 0

	for i < len(src) {
		ch := src[i]

		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}

		switch {
		case ch >= '0' && ch <= '9':
			start := i
			for i < len(src) && src[i] >= '0' && src[i] <= '9' {
				i++
			}
			// one fractional part, digits required after the dot
			if i+1 < len(src) && src[i] == '.' && src[i+1] >= '0' && src[i+1] <= '9' {
				i++
				for i < len(src) && src[i] >= '0' && src[i] <= '9' {
					i++
				}
			}

			tokens = append(tokens, token{kind: tokenNumber, text: src[start:i], pos: start})

		case isIdentStart(ch):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}

			tokens = append(tokens, token{kind: tokenIdent, text: src[start:i], pos: start})

		case ch == '.':
			tokens = append(tokens, token{kind: tokenDot, text: ".", pos: i})
			i++
		case ch == '+':
			tokens = append(tokens, token{kind: tokenPlus, text: "+", pos: i})
			i++
		case ch == '-':
			tokens = append(tokens, token{kind: tokenMinus, text: "-", pos: i})
			i++
		case ch == '*':
			tokens = append(tokens, token{kind: tokenStar, text: "*", pos: i})
			i++
		case ch == '/':
			tokens = append(tokens, token{kind: tokenSlash, text: "/", pos: i})
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case ch == '<':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenLessEqual, text: "<=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenLess, text: "<", pos: i})
				i++
			}
		case ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenGreaterEqual, text: ">=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenGreater, text: ">", pos: i})
				i++
			}
		case ch == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenEqual, text: "==", pos: i})
				i += 2
			} else {
				return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, "=", i, "assignment is not allowed")
			}
		case ch == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenNotEqual, text: "!=", pos: i})
				i += 2
			} else {
				return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, "!", i, "boolean operators are not allowed")
			}
		default:
			return nil, NewEvalErrorf(EvalErrorDisallowedSyntax, string(ch), i, "character %q is not allowed", ch)
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(src)})

	return tokens, nil
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

// IsIdentifier reports whether s can appear as a reference segment: a letter
// or underscore followed by letters, digits or underscores. Playbook
// validation uses it to reject indicator ids and variable names that
// expressions could never reference.
func IsIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}

	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}

	return true
}
