package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]any) Env {
	return func(name string) (any, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestEval(t *testing.T) {
	values := map[string]any{
		"Price":    12.5,
		"Quantity": 4,
		"Name":     "widget",
		"Active":   true,
		"Tags":     []any{"a", "b"},
	}

	tests := []struct {
		src  string
		want any
	}{
		{`1 + 2 * 3`, 7.0},
		{`(1 + 2) * 3`, 9.0},
		{`-{Price}`, -12.5},
		{`{Price} * {Quantity}`, 50.0},
		{`{Name} & "-" & {Quantity}`, "widget-4"},
		{`{Price} > 10`, true},
		{`{Price} <> 12.5`, false},
		{`IF({Active}, "on", "off")`, "on"},
		{`IF({Missing}, "on")`, nil},
		{`ROUND(10 / 3, 2)`, 3.33},
		{`ABS(-3)`, 3.0},
		{`MIN(3, 1, 2)`, 1.0},
		{`MAX({Price}, {Quantity})`, 12.5},
		{`SUM(1, 2, 3)`, 6.0},
		{`UPPER({Name})`, "WIDGET"},
		{`LEN({Name})`, 6.0},
		{`LEN({Tags})`, 2.0},
		{`BLANK({Missing})`, true},
		{`CONCAT("a", 1, true)`, "a1true"},
		{`AND(true, {Active}, NOT(false))`, true},
		{`OR(false, {Missing})`, false},
		{`{Missing} + 1`, nil},
		{`"a" = "a"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := e.Eval(env(values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	_, err := MustParse(`1 / 0`).Eval(nil)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MustParse(`"a" * 2`).Eval(nil)
	assert.ErrorIs(t, err, ErrType)
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		``,
		`1 +`,
		`{Price`,
		`{}`,
		`"open`,
		`NOPE(1)`,
		`ROUND()`,
		`NOT(1, 2)`,
		`(1 + 2`,
		`1 ! 2`,
		`1 2`,
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestRefs(t *testing.T) {
	e := MustParse(`IF({Total} > 0, {Paid} / {Total}, {Paid})`)
	assert.Equal(t, []string{"Total", "Paid"}, e.Refs())
	assert.Equal(t, `IF({Total} > 0, {Paid} / {Total}, {Paid})`, e.String())
}
