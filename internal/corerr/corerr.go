// Package corerr defines the core's error taxonomy (spec ยง7). Every
// fallible operation in the core returns an error wrapping one of these
// Kinds rather than a bare string, so OpGateway callers can dispatch on
// kind without parsing messages — mirroring the teacher's use of wrapped
// fmt.Errorf chains throughout internal/core/engine.go, generalized with an
// explicit Kind tag since this core's error surface is richer than the
// teacher's.
package corerr

import "fmt"

// Kind is a semantic error category, not a Go type name (spec ยง7: "semantic
// kinds, not type names").
type Kind string

const (
	// Validation
	KindInvalidPower  Kind = "InvalidPower"
	KindInvalidConfig Kind = "InvalidConfig"
	KindInvalidAmount Kind = "InvalidAmount"
	KindInvalidSide   Kind = "InvalidSide"
	KindCollateralMismatch Kind = "CollateralMismatch"

	// Permission
	KindOperationDisabled Kind = "OperationDisabled"
	KindNotAdmin          Kind = "NotAdmin"
	KindBelowThreshold    Kind = "BelowThreshold"
	KindDuplicateSignature Kind = "DuplicateSignature"
	KindInstructionMismatch Kind = "InstructionMismatch"
	KindNotAuthorized     Kind = "NotAuthorized"

	// Market
	KindStaleOraclePrice      Kind = "StaleOraclePrice"
	KindPriceConfidenceTooWide Kind = "PriceConfidenceTooWide"
	KindMaxPriceSlippage      Kind = "MaxPriceSlippage"
	KindUnsupportedOracle     Kind = "UnsupportedOracle"

	// Risk
	KindLeverageTooHigh       Kind = "LeverageTooHigh"
	KindInsufficientLiquidity Kind = "InsufficientLiquidity"
	KindNotLiquidatable       Kind = "NotLiquidatable"

	// Arithmetic
	KindMathOverflow   Kind = "MathOverflow"
	KindDivisionByZero Kind = "DivisionByZero"

	// Settlement
	KindSettlementFailed Kind = "SettlementFailed"

	// Internal
	KindApproximateLiquidationPrice Kind = "ApproximateLiquidationPrice" // warning, not fatal
	KindStateCorruption             Kind = "StateCorruption"             // fatal

	// Existence / uniqueness (operation surface, spec ยง6.1)
	KindMultisigAlreadyInit Kind = "MultisigAlreadyInit"
	KindInvalidThreshold    Kind = "InvalidThreshold"
	KindPoolExists          Kind = "PoolExists"
	KindPoolNotFound        Kind = "PoolNotFound"
	KindCustodyExists       Kind = "CustodyExists"
	KindCustodyNotFound     Kind = "CustodyNotFound"
	KindPositionNotFound    Kind = "PositionNotFound"
)

// Error wraps a Kind with the operation name and minimal numeric context
// that caused the breach, per spec ยง7's propagation policy.
type Error struct {
	Kind    Kind
	Op      string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v %v", e.Op, e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

// There is no Is method: Kind is a plain string type, not an error, so
// errors.Is cannot match on it. Callers compare Kind values directly via
// corerr.KindOf(err) == corerr.KindLeverageTooHigh.

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op string, context map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Context: context}
}

// Wrap constructs an *Error wrapping an existing error.
func Wrap(kind Kind, op string, context map[string]any, err error) *Error {
	return &Error{Kind: kind, Op: op, Context: context, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if asError(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// asError is a tiny errors.As shim kept local to avoid importing errors
// just for this one call site pattern used repeatedly across the core.
func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsFatal reports whether a Kind halts all ops until admin intervenes
// (spec ยง7: StateCorruption is fatal, ApproximateLiquidationPrice is a
// warning that does not abort the calling operation).
func IsFatal(k Kind) bool {
	return k == KindStateCorruption
}
