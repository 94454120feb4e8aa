package sizing

import (
	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/shopspring/decimal"
)

// FixedRiskInput carries everything the mandatory size-computation formula
// needs. This is the deterministic sizing path the Trade Contract Builder
// uses, and the only sizing function in this package.
type FixedRiskInput struct {
	Balance     decimal.Decimal // wallet.available
	RiskUSDT    decimal.Decimal // dollar_amount or balance*risk_percent/100
	Mark        decimal.Decimal
	SLPrice     decimal.Decimal
	MinOrderQty decimal.Decimal
	QtyStep     decimal.Decimal
}

// FixedRiskSize implements spec §4.4's size computation exactly:
//
//	sl_distance = |mark - sl_price| / mark
//	size        = (risk_usdt / sl_distance) / mark
//	size_final  = max(min_order_qty, floor(size / qty_step) * qty_step)
//
// A size of zero is rejected with a size-calc error, per spec.
func FixedRiskSize(in FixedRiskInput) (decimal.Decimal, *reasoncode.Rejection) {
	if in.Mark.IsZero() {
		return decimal.Zero, reasoncode.New(reasoncode.CodeSizeCalcError, "mark price is zero", "")
	}

	slDistance := in.Mark.Sub(in.SLPrice).Abs().Div(in.Mark)
	if slDistance.IsZero() {
		return decimal.Zero, reasoncode.New(reasoncode.CodeSizeCalcError, "stop-loss distance is zero", "choose a stop-loss price away from the mark")
	}

	rawSize := in.RiskUSDT.Div(slDistance).Div(in.Mark)
	if rawSize.IsZero() {
		return decimal.Zero, reasoncode.New(reasoncode.CodeSizeCalcError, "computed position size is zero", "increase risk % or account balance")
	}

	floored := rawSize
	if in.QtyStep.IsPositive() {
		steps := rawSize.Div(in.QtyStep).Floor()
		floored = steps.Mul(in.QtyStep)
	}

	final := floored
	if final.LessThan(in.MinOrderQty) {
		final = in.MinOrderQty
	}

	return final, nil
}
