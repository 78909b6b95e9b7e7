package hyperliquid

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// maxPerpDecimals: perp prices carry at most 6-szDecimals decimals.
const maxPerpDecimals = 6

// FloatToWire renders x with at most 8 decimals and no trailing zeros, rejecting
// values that would lose precision.
func FloatToWire(x float64) (string, error) {
	d := decimal.NewFromFloat(x)
	rounded := d.Round(8)
	if !rounded.Sub(d).Abs().LessThan(decimal.New(1, -12)) {
		return "", errors.Errorf("float_to_wire causes rounding: %v", x)
	}
	if rounded.IsZero() {
		return "0", nil
	}
	return rounded.String(), nil
}

// RoundPrice applies the venue tick rule: five significant figures, then at most
// 6-szDecimals decimal places.
func RoundPrice(px float64, szDecimals int) float64 {
	d, err := decimal.NewFromString(strconv.FormatFloat(px, 'g', 5, 64))
	if err != nil {
		d = decimal.NewFromFloat(px)
	}
	places := maxPerpDecimals - szDecimals
	if places < 0 {
		places = 0
	}
	f, _ := d.Round(int32(places)).Float64()
	return f
}

// RoundSize rounds sz to the asset's size decimals.
func RoundSize(sz float64, szDecimals int) float64 {
	f, _ := decimal.NewFromFloat(sz).Round(int32(szDecimals)).Float64()
	return f
}

// SlippagePrice offsets mid by slippage in the direction that makes an IOC cross the
// book, then applies the tick rule.
func SlippagePrice(mid float64, isBuy bool, slippage float64, szDecimals int) float64 {
	m := decimal.NewFromFloat(mid)
	s := decimal.NewFromFloat(slippage)
	one := decimal.NewFromInt(1)
	var px decimal.Decimal
	if isBuy {
		px = m.Mul(one.Add(s))
	} else {
		px = m.Mul(one.Sub(s))
	}
	f, _ := px.Float64()
	return RoundPrice(f, szDecimals)
}
