package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v3"
)

// floatEqualEpsilon bounds the == / != comparison of two evaluated floats.
const floatEqualEpsilon = 1e-9

type ConditionOp string

const (
	ConditionAll ConditionOp = "all"
	ConditionAny ConditionOp = "any"
)

// Condition is a boolean combinator over a list of rules. An empty rule
// list evaluates to false; there is no vacuous truth.
type Condition struct {
	Op    ConditionOp `yaml:"op" json:"op" validate:"required,oneof=all any"`
	Rules []Rule      `yaml:"rules" json:"rules" validate:"dive"`
}

// Rule compares two expressions. Left and Right are DSL expression strings;
// Operator is one of < > <= >= == !=.
type Rule struct {
	Left     string `yaml:"left" json:"left" validate:"required"`
	Operator string `yaml:"op" json:"op" validate:"required,oneof=< > <= >= == !="`
	Right    string `yaml:"right" json:"right" validate:"required"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s", r.Left, r.Operator, r.Right)
}

// UnmarshalYAML accepts either the explicit mapping form
// {left: ..., op: ..., right: ...} or a single scalar like
// "_price >= trade.open_price + 2", split at its top-level comparison.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var src string
		if err := value.Decode(&src); err != nil {
			return err
		}

		parsed, err := ParseRule(src)
		if err != nil {
			return err
		}

		*r = parsed

		return nil

	case yaml.MappingNode:
		type plainRule Rule

		var parsed plainRule
		if err := value.Decode(&parsed); err != nil {
			return err
		}

		*r = Rule(parsed)

		return nil

	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "rule at line %d must be a string or a left/op/right mapping", value.Line)
	}
}

// ParseRule splits a scalar rule source at its single top-level comparison
// operator. Exactly one comparison is required; chained comparisons are
// disallowed syntax.
func ParseRule(src string) (Rule, error) {
	tokens, err := lex(src)
	if err != nil {
		return Rule{}, err
	}

	depth := 0
	opIndex := -1

	for idx, tok := range tokens {
		switch {
		case tok.kind == tokenLParen:
			depth++
		case tok.kind == tokenRParen:
			depth--
		case tok.kind.isComparison() && depth == 0:
			if opIndex >= 0 {
				return Rule{}, NewEvalError(EvalErrorDisallowedSyntax, tok.text, tok.pos, "chained comparisons are not allowed")
			}

			opIndex = idx
		}
	}

	if opIndex < 0 {
		return Rule{}, NewEvalError(EvalErrorDisallowedSyntax, src, 0, "rule must contain exactly one comparison operator")
	}

	op := tokens[opIndex]
	left := strings.TrimSpace(src[:op.pos])
	right := strings.TrimSpace(src[op.pos+len(op.text):])

	if left == "" || right == "" {
		return Rule{}, NewEvalError(EvalErrorDisallowedSyntax, op.text, op.pos, "comparison needs expressions on both sides")
	}

	return Rule{Left: left, Operator: op.text, Right: right}, nil
}

// UnmarshalYAML accepts the combinator as a single-key mapping whose key is
// the operator: {all: [...]} / {any: [...]}, with and/or as aliases.
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "condition at line %d must be a single all/any mapping", value.Line)
	}

	key := strings.ToLower(value.Content[0].Value)

	switch key {
	case "all", "and":
		c.Op = ConditionAll
	case "any", "or":
		c.Op = ConditionAny
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown condition combinator %q, want all/and or any/or", key)
	}

	if err := value.Content[1].Decode(&c.Rules); err != nil {
		return err
	}

	return nil
}

// Diagnostic records one rule evaluation failure inside a condition. The
// owning rule was treated as false; the diagnostic keeps the failure
// distinguishable from a legitimate false.
type Diagnostic struct {
	RuleIndex int
	Rule      Rule
	Err       error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("rule %d (%s): %v", d.RuleIndex, d.Rule, d.Err)
}

// EvaluateCondition folds the rule results with the condition's combinator.
// Every rule is evaluated, none short-circuited, so diagnostics cover all
// broken rules of the cycle. A rule whose evaluation fails contributes
// false (fail-closed) and one diagnostic.
func (i *Interpreter) EvaluateCondition(cond Condition, ctx Context) (bool, []Diagnostic) {
	if len(cond.Rules) == 0 {
		return false, nil
	}

	var diagnostics []Diagnostic

	results := make([]bool, len(cond.Rules))

	for idx, rule := range cond.Rules {
		ok, err := i.EvaluateRule(rule, ctx)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{RuleIndex: idx, Rule: rule, Err: err})
			ok = false
		}

		results[idx] = ok
	}

	switch cond.Op {
	case ConditionAll:
		for _, ok := range results {
			if !ok {
				return false, diagnostics
			}
		}

		return true, diagnostics

	case ConditionAny:
		for _, ok := range results {
			if ok {
				return true, diagnostics
			}
		}

		return false, diagnostics

	default:
		diagnostics = append(diagnostics, Diagnostic{
			RuleIndex: -1,
			Err:       errors.Newf(errors.ErrCodeInvariantViolation, "unknown condition combinator %q", cond.Op),
		})

		return false, diagnostics
	}
}

// EvaluateRule evaluates both sides of a rule and applies its comparison
// operator. Equality uses an absolute epsilon; exact float equality over
// indicator arithmetic is never meaningful.
func (i *Interpreter) EvaluateRule(rule Rule, ctx Context) (bool, error) {
	left, err := i.Evaluate(rule.Left, ctx)
	if err != nil {
		return false, err
	}

	right, err := i.Evaluate(rule.Right, ctx)
	if err != nil {
		return false, err
	}

	switch rule.Operator {
	case "<":
		return left < right, nil
	case ">":
		return left > right, nil
	case "<=":
		return left <= right, nil
	case ">=":
		return left >= right, nil
	case "==":
		return math.Abs(left-right) <= floatEqualEpsilon, nil
	case "!=":
		return math.Abs(left-right) > floatEqualEpsilon, nil
	default:
		return false, errors.Newf(errors.ErrCodeInvariantViolation, "unknown comparison operator %q", rule.Operator)
	}
}
