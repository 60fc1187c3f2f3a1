package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope is the top-level account namespace: a custody's pooled
// liquidity, an individual trader's position, the protocol treasury, or an
// external counterparty outside the pool.
type AccountScope uint8

const (
	AccountScopeCustody AccountScope = iota
	AccountScopePosition
	AccountScopeTreasury
	AccountScopeExternal
)

// AccountSubType is the balance line within a scope, mirroring
// domain.AssetBalances and the collateral/locked fields on position.Position.
type AccountSubType uint8

const (
	// Custody sub-types.
	SubTypeOwned AccountSubType = iota
	SubTypeLockedLiquidity
	SubTypeProtocolFees

	// Position sub-types.
	SubTypeCollateral
	SubTypeLockedCollateral
)

// AccountKey is the in-memory key for balance tracking.
type AccountKey struct {
	Scope    AccountScope
	EntityID uuid.UUID // custody id or position id
	SubType  AccountSubType
}

// NewCustodyAccountKey creates a key for a custody's owned/locked/fee balance.
func NewCustodyAccountKey(custodyID uuid.UUID, subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopeCustody, EntityID: custodyID, SubType: subType}
}

// NewPositionAccountKey creates a key for a position's collateral/locked balance.
func NewPositionAccountKey(positionID uuid.UUID, subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopePosition, EntityID: positionID, SubType: subType}
}

// treasuryKey is the single external account fees are withdrawn to.
var treasuryKey = AccountKey{Scope: AccountScopeTreasury}

// NewExternalAccountKey creates a key for the counterparty side of a
// liquidity or swap leg: the depositor/withdrawer/trader outside the pool's
// own custody accounts. Scoped per pool, not per custody, since a swap's
// two legs share one counterparty.
func NewExternalAccountKey(poolID uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, EntityID: poolID}
}

// AccountPath returns the string representation for storage/logging.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeCustody:
		return fmt.Sprintf("custody:%s:%s", k.EntityID, k.subTypeName())
	case AccountScopePosition:
		return fmt.Sprintf("position:%s:%s", k.EntityID, k.subTypeName())
	case AccountScopeTreasury:
		return "treasury"
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.EntityID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeOwned:
		return "owned"
	case SubTypeLockedLiquidity:
		return "locked"
	case SubTypeProtocolFees:
		return "protocol_fees"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeLockedCollateral:
		return "locked_collateral"
	default:
		return "unknown"
	}
}
