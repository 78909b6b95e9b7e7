package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUSD(t *testing.T) {
	assert.Equal(t, "97,500.00", usd("97500"))
	assert.Equal(t, "3,250.50", usd("3250.5"))
	assert.Equal(t, "0.07", usd("0.0712"))
	assert.Equal(t, "1,234,567.89", usd("1234567.891"))
	assert.Equal(t, "-1,000.00", usd("-1000"))
	assert.Equal(t, "abc", usd("abc"))
}

func TestTableAlignsColumns(t *testing.T) {
	out := table([]string{"A", "B"}, [][]string{{"long-name", "1"}, {"x", "22"}})
	assert.Contains(t, out, "long-name  1")
	assert.Contains(t, out, "x          22")
}
