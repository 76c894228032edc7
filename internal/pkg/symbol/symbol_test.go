package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"BTCUSDT", "BTC", "USDT"},
		{"ethbtc", "ETH", "BTC"},
		{" SOL/USDC ", "SOL", "USDC"},
		{"", "", ""},
		{"USDT", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			sym := Parse(tc.in)
			assert.Equal(t, tc.base, sym.Base)
			assert.Equal(t, tc.quote, sym.Quote)
		})
	}
}

func TestToExchange(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ToExchange("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", ToExchange("btcusdt"))
	assert.Equal(t, "", ToExchange(""))
}

func TestNormalizeList(t *testing.T) {
	out := NormalizeList([]string{"btc/usdt", "BTCUSDT", "ETH/USDT", "bogus"})
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, out)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTC/USDT"))
	assert.False(t, IsValid("notasymbol"))
}
