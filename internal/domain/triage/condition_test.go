package triage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpr(t *testing.T) {
	tests := []struct {
		in    string
		terms int
		all   bool
	}{
		{"<90", 1, false},
		{">=8", 1, false},
		{"==0", 1, false},
		{"<10 or >36", 2, false},
		{">=9 and <=12", 2, true},
		{"<1 OR >2 or ==5", 3, false},
		{">38.5", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseExpr(tt.in)
			require.NoError(t, err)
			assert.Len(t, e.Terms, tt.terms)
			assert.Equal(t, tt.all, e.All)
		})
	}
}

func TestParseExpr_Errors(t *testing.T) {
	bad := []string{
		"",
		"90",
		"<",
		"< 90",
		"=>5",
		"=5",
		"<abc",
		"<90 >140",
		"<10 or >36 and <20",
		"<90 or",
		"<1.2.3",
		"st_elevation or new_lbbb",
		"<70% predicted",
	}
	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, err := ParseExpr(in)
			assert.Error(t, err)
		})
	}
}

func TestExprEval(t *testing.T) {
	or := MustParseExpr("<90 or >140")
	assert.False(t, or.Eval(95))
	assert.True(t, or.Eval(85))
	assert.True(t, or.Eval(150))
	assert.False(t, or.Eval(90))

	and := MustParseExpr(">=9 and <=12")
	assert.True(t, and.Eval(9))
	assert.True(t, and.Eval(12))
	assert.False(t, and.Eval(8))
	assert.False(t, and.Eval(13))

	assert.True(t, MustParseExpr("==5").Eval(5))
	assert.Equal(t, ">=9 and <=12", and.String())
}

func TestEvaluateCondition(t *testing.T) {
	m := Measurements{"heart_rate": 95, "spo2": "88", "temp": "hot", "flag": true, "rate": json.Number("40")}

	ok, err := EvaluateCondition("<90 or >140", "heart_rate", m)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvaluateCondition("<90", "spo2", m)
	require.NoError(t, err)
	assert.True(t, ok, "numeric strings are accepted")

	ok, err = EvaluateCondition(">38", "temp", m)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvaluateCondition(">0", "flag", m)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvaluateCondition(">36", "rate", m)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateCondition("<90", "missing", m)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = EvaluateCondition("<<90", "heart_rate", m)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNumeric(t *testing.T) {
	v, ok := Numeric(" 37.5 ")
	assert.True(t, ok)
	assert.Equal(t, 37.5, v)

	_, ok = Numeric(nil)
	assert.False(t, ok)
	_, ok = Numeric("NaN")
	assert.False(t, ok)
	_, ok = Numeric([]int{1})
	assert.False(t, ok)
}
