package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDivisionByZero is returned when a formula divides by zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrType is returned when an operator receives values it cannot combine.
	ErrType = errors.New("type mismatch")
)

// Env resolves field references during evaluation. A false second result
// means the field has no value.
type Env func(name string) (any, bool)

// Eval evaluates the formula. Missing references evaluate to nil and nil
// propagates through arithmetic, so a formula over absent inputs yields nil.
func (e *Expr) Eval(env Env) (any, error) {
	return eval(e.root, env)
}

func eval(n *node, env Env) (any, error) {
	switch n.kind {
	case nodeLit:
		return n.value, nil
	case nodeRef:
		if env == nil {
			return nil, nil
		}
		v, ok := env(n.name)
		if !ok {
			return nil, nil
		}
		return normalize(v), nil
	case nodeNeg:
		v, err := eval(n.args[0], env)
		if err != nil || v == nil {
			return nil, err
		}
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot negate %T", ErrType, v)
		}
		return -f, nil
	case nodeBinary:
		left, err := eval(n.args[0], env)
		if err != nil {
			return nil, err
		}
		right, err := eval(n.args[1], env)
		if err != nil {
			return nil, err
		}
		return binary(n.name, left, right)
	case nodeCall:
		if n.name == "IF" {
			return evalIf(n, env)
		}
		args := make([]any, len(n.args))
		for i, a := range n.args {
			v, err := eval(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return functions[n.name].fn(args)
	}
	return nil, fmt.Errorf("formula: unknown node kind %d", n.kind)
}

// evalIf only evaluates the branch that is taken.
func evalIf(n *node, env Env) (any, error) {
	cond, err := eval(n.args[0], env)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return eval(n.args[1], env)
	}
	if len(n.args) > 2 {
		return eval(n.args[2], env)
	}
	return nil, nil
}

func binary(op string, left, right any) (any, error) {
	switch op {
	case "&":
		return Format(left) + Format(right), nil
	case "=":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		if left == nil || right == nil {
			return nil, nil
		}
		c, err := compare(left, right)
		if err != nil {
			return nil, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}

	if left == nil || right == nil {
		return nil, nil
	}
	a, okA := number(left)
	b, okB := number(right)
	if !okA || !okB {
		return nil, fmt.Errorf("%w: %T %s %T", ErrType, left, op, right)
	}
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return a / b, nil
	}
	return nil, fmt.Errorf("formula: unknown operator %q", op)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	}
	return v
}

func number(v any) (float64, bool) {
	switch x := normalize(v).(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, err := compare(a, b)
	return err == nil && c == 0
}

func compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmpFloat(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			if x == y {
				return 0, nil
			}
			if !x {
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrType, a, b)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Format renders a value the way the & operator and CONCAT see it.
func Format(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Format(e)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

type function struct {
	min, max int
	fn       func(args []any) (any, error)
}

func (f function) arity() string {
	switch {
	case f.max < 0:
		return fmt.Sprintf("at least %d", f.min)
	case f.min == f.max:
		return strconv.Itoa(f.min)
	}
	return fmt.Sprintf("%d to %d", f.min, f.max)
}

var functions map[string]function

func init() {
	functions = map[string]function{
		// IF is evaluated lazily in evalIf.
		"IF":     {min: 2, max: 3},
		"AND":    {min: 1, max: -1, fn: fnAnd},
		"OR":     {min: 1, max: -1, fn: fnOr},
		"NOT":    {min: 1, max: 1, fn: func(a []any) (any, error) { return !truthy(a[0]), nil }},
		"ROUND":  {min: 1, max: 2, fn: fnRound},
		"ABS":    {min: 1, max: 1, fn: numeric1(math.Abs)},
		"MIN":    {min: 1, max: -1, fn: fnExtreme(-1)},
		"MAX":    {min: 1, max: -1, fn: fnExtreme(1)},
		"SUM":    {min: 1, max: -1, fn: fnSum},
		"CONCAT": {min: 1, max: -1, fn: fnConcat},
		"UPPER":  {min: 1, max: 1, fn: text1(strings.ToUpper)},
		"LOWER":  {min: 1, max: 1, fn: text1(strings.ToLower)},
		"LEN":    {min: 1, max: 1, fn: fnLen},
		"BLANK":  {min: 1, max: 1, fn: fnBlank},
	}
}

func fnAnd(args []any) (any, error) {
	for _, a := range args {
		if !truthy(a) {
			return false, nil
		}
	}
	return true, nil
}

func fnOr(args []any) (any, error) {
	for _, a := range args {
		if truthy(a) {
			return true, nil
		}
	}
	return false, nil
}

func fnRound(args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	x, ok := number(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: ROUND of %T", ErrType, args[0])
	}
	places := 0.0
	if len(args) > 1 {
		p, ok := number(args[1])
		if !ok {
			return nil, fmt.Errorf("%w: ROUND places %T", ErrType, args[1])
		}
		places = p
	}
	pow := math.Pow(10, math.Trunc(places))
	return math.Round(x*pow) / pow, nil
}

func numeric1(f func(float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		x, ok := number(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: expected number, got %T", ErrType, args[0])
		}
		return f(x), nil
	}
}

func text1(f func(string) string) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return f(Format(args[0])), nil
	}
}

func fnExtreme(sign int) func([]any) (any, error) {
	return func(args []any) (any, error) {
		var best any
		for _, a := range flatten(args) {
			if a == nil {
				continue
			}
			if best == nil {
				best = a
				continue
			}
			c, err := compare(a, best)
			if err != nil {
				return nil, err
			}
			if c*sign > 0 {
				best = a
			}
		}
		return best, nil
	}
}

func fnSum(args []any) (any, error) {
	total := 0.0
	for _, a := range flatten(args) {
		if a == nil {
			continue
		}
		x, ok := number(a)
		if !ok {
			return nil, fmt.Errorf("%w: SUM of %T", ErrType, a)
		}
		total += x
	}
	return total, nil
}

func fnConcat(args []any) (any, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(Format(a))
	}
	return b.String(), nil
}

func fnLen(args []any) (any, error) {
	switch x := args[0].(type) {
	case nil:
		return 0.0, nil
	case []any:
		return float64(len(x)), nil
	case []string:
		return float64(len(x)), nil
	}
	return float64(len([]rune(Format(args[0])))), nil
}

func fnBlank(args []any) (any, error) {
	switch x := args[0].(type) {
	case nil:
		return true, nil
	case string:
		return strings.TrimSpace(x) == "", nil
	case []any:
		return len(x) == 0, nil
	case []string:
		return len(x) == 0, nil
	}
	return false, nil
}

// flatten expands list arguments so that SUM({tags}) and SUM(1, 2) both work.
func flatten(args []any) []any {
	var out []any
	for _, a := range args {
		switch x := a.(type) {
		case []any:
			for _, e := range x {
				out = append(out, normalize(e))
			}
		default:
			out = append(out, normalize(a))
		}
	}
	return out
}
