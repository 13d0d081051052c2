package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalModelID(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"anchor", `<a href=/m>GPT-X</a>`, "GPT-X"},
		{"anchor with attrs", `<a href="https://x" target="_blank">  Model-1 </a>`, "Model-1"},
		{"plain", "  plain-model  ", "plain-model"},
		{"nested markup", `<span class="x">Model <b>Two</b></span>`, "Model Two"},
		{"entities", "A &amp; B", "A & B"},
		{"markup only", "<img src=x>", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalModelID(tc.input))
		})
	}
}

func TestCanonicalModelIDSameKeyAcrossFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CanonicalModelID("GPT-X"), CanonicalModelID(`<a href="/other">GPT-X</a>`))
}

func TestParseFormattedNumber(t *testing.T) {
	t.Parallel()

	n, err := ParseFormattedNumber("15,234")
	require.NoError(t, err)
	assert.EqualValues(t, 15234, n)

	n, err = ParseFormattedNumber(" 1 000 ")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)

	_, err = ParseFormattedNumber("")
	assert.Error(t, err)
	_, err = ParseFormattedNumber("n/a")
	assert.Error(t, err)
}

func TestParseDecimal(t *testing.T) {
	t.Parallel()

	d, err := ParseDecimal("1,300.4")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1300.4")))

	_, err = ParseDecimal("abc")
	assert.Error(t, err)
}

func TestParseCIText(t *testing.T) {
	t.Parallel()

	score := decimal.RequireFromString("1300")

	ci := ParseCIText("1298.1, 1302.9", score)
	require.NotNil(t, ci)
	assert.Equal(t, "1298.1, 1302.9", ci.Display())

	ci = ParseCIText("+5/-7", score)
	require.NotNil(t, ci)
	assert.True(t, ci.Lower.Equal(decimal.NewFromInt(1293)))
	assert.True(t, ci.Upper.Equal(decimal.NewFromInt(1305)))

	assert.Nil(t, ParseCIText("", score))
	assert.Nil(t, ParseCIText("preliminary", score))
	assert.Nil(t, ParseCIText("a, b", score))
}
