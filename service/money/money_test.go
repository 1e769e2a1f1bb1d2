package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "1.500000000 GRIN", Grin(1_500_000_000).String())
	assert.Equal(t, "0.000000001 GRIN", Grin(1).String())
	assert.Equal(t, "12.34 USD", Money{Amount: 1234, Currency: USD}.String())
	assert.Equal(t, "0.00100000 BTC", Money{Amount: 100_000, Currency: BTC}.String())
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("1.5", GRIN)
	require.NoError(t, err)
	assert.Equal(t, Grin(1_500_000_000), m)

	m, err = ParseMoney("10", EUR)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.Amount)

	_, err = ParseMoney("0.001", USD)
	assert.Error(t, err)

	_, err = ParseMoney("abc", GRIN)
	assert.Error(t, err)
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency("grin")
	require.NoError(t, err)
	assert.Equal(t, GRIN, c)

	_, err = ParseCurrency("doge")
	assert.Error(t, err)
}
