package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from opgateway
// operations. One batch per operation; each leg is individually balanced,
// so a batch with a fee leg and a pnl leg is balanced as a whole.
type JournalGenerator struct {
	sequence int64
	tracker  *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence, tracker: tracker}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	b := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
	jg.sequence++
	return b
}

func (jg *JournalGenerator) leg(b *Batch, debit, credit AccountKey, amount int64, jt JournalType, timestamp int64) {
	if amount <= 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     timestamp,
	})
}

// GenerateOpenPosition posts the collateral deposit into the position and
// the locking of max-payoff liquidity (debit custody locked liquidity,
// credit position locked collateral; owned is not touched by this leg),
// mirroring position.Open's AddCollateral + custody.Lock pair.
func (jg *JournalGenerator) GenerateOpenPosition(
	positionID, custodyID uuid.UUID,
	collateralUSD, lockedAmount int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:open", positionID)
	b := jg.newBatch(eventRef, timestamp, 2)

	jg.leg(b,
		NewPositionAccountKey(positionID, SubTypeCollateral),
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		collateralUSD, JournalTypeCollateralDeposit, timestamp)

	jg.leg(b,
		NewCustodyAccountKey(custodyID, SubTypeLockedLiquidity),
		NewPositionAccountKey(positionID, SubTypeLockedCollateral),
		lockedAmount, JournalTypeLockLiquidity, timestamp)

	return b
}

// GenerateClosePosition posts the settlement legs from position.Close:
// unlock liquidity, realized profit or loss, and the flat close fee.
// Exactly one of profitUSD/lossUSD is nonzero per position.PnL's mutual
// exclusivity invariant.
func (jg *JournalGenerator) GenerateClosePosition(
	positionID, custodyID uuid.UUID,
	lockedAmount, profitUSD, lossUSD, feeUSD int64,
	timestamp int64,
) *Batch {
	return jg.generateSettlement(positionID, custodyID, lockedAmount, profitUSD, lossUSD, feeUSD,
		JournalTypePositionCloseFee, fmt.Sprintf("%s:close", positionID), timestamp)
}

// GenerateLiquidation posts the same settlement shape as a voluntary close,
// but tagged with the liquidation fee journal type so downstream reporting
// can distinguish the two (they share no other difference at the ledger
// level — the fee rate and trigger condition differ, not the postings).
func (jg *JournalGenerator) GenerateLiquidation(
	positionID, custodyID uuid.UUID,
	lockedAmount, profitUSD, lossUSD, feeUSD int64,
	timestamp int64,
) *Batch {
	return jg.generateSettlement(positionID, custodyID, lockedAmount, profitUSD, lossUSD, feeUSD,
		JournalTypeLiquidationFee, fmt.Sprintf("%s:liquidate", positionID), timestamp)
}

func (jg *JournalGenerator) generateSettlement(
	positionID, custodyID uuid.UUID,
	lockedAmount, profitUSD, lossUSD, feeUSD int64,
	feeJournalType JournalType,
	eventRef string,
	timestamp int64,
) *Batch {
	b := jg.newBatch(eventRef, timestamp, 4)

	jg.leg(b,
		NewPositionAccountKey(positionID, SubTypeLockedCollateral),
		NewCustodyAccountKey(custodyID, SubTypeLockedLiquidity),
		lockedAmount, JournalTypeUnlockLiquidity, timestamp)

	if profitUSD > 0 {
		jg.leg(b,
			NewPositionAccountKey(positionID, SubTypeCollateral),
			NewCustodyAccountKey(custodyID, SubTypeOwned),
			profitUSD, JournalTypeRealizedProfit, timestamp)
	}
	if lossUSD > 0 {
		jg.leg(b,
			NewCustodyAccountKey(custodyID, SubTypeOwned),
			NewPositionAccountKey(positionID, SubTypeCollateral),
			lossUSD, JournalTypeRealizedLoss, timestamp)
	}
	if feeUSD > 0 {
		jg.leg(b,
			NewCustodyAccountKey(custodyID, SubTypeProtocolFees),
			NewPositionAccountKey(positionID, SubTypeCollateral),
			feeUSD, feeJournalType, timestamp)
	}

	return b
}

// GenerateBorrowInterest posts a custody's kinked-curve interest accrual.
// custody.UpdateBorrowRate only advances the CumulativeInterest
// accumulator in memory; this batch gives that accrual an auditable trail
// without moving owned liquidity (interest is charged against open
// positions at close time through the fee leg, not accrued as cash here).
func (jg *JournalGenerator) GenerateBorrowInterest(
	custodyID uuid.UUID,
	cumulativeDelta int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:borrow_rate:%d", custodyID, jg.sequence)
	b := jg.newBatch(eventRef, timestamp, 1)
	jg.leg(b,
		NewCustodyAccountKey(custodyID, SubTypeProtocolFees),
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		cumulativeDelta, JournalTypeBorrowInterest, timestamp)
	return b
}

// GenerateAddLiquidity posts pool.AddLiquidity's deposit: the full gross
// amount flows in from outside the pool, then the add-liquidity fee is
// reclassified out of owned into the custody's protocol fee balance.
func (jg *JournalGenerator) GenerateAddLiquidity(
	poolID, custodyID uuid.UUID,
	grossUSD, feeUSD int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:%s:add_liquidity:%d", poolID, custodyID, jg.sequence)
	b := jg.newBatch(eventRef, timestamp, 2)

	jg.leg(b,
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		NewExternalAccountKey(poolID),
		grossUSD, JournalTypeLiquidityDeposit, timestamp)

	jg.leg(b,
		NewCustodyAccountKey(custodyID, SubTypeProtocolFees),
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		feeUSD, JournalTypeLiquidityFee, timestamp)

	return b
}

// GenerateRemoveLiquidity posts pool.RemoveLiquidity's withdrawal: the net
// (post-fee) amount flows out to the caller, while the fee is reclassified
// out of owned into protocol fees same as AddLiquidity.
func (jg *JournalGenerator) GenerateRemoveLiquidity(
	poolID, custodyID uuid.UUID,
	netUSD, feeUSD int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:%s:remove_liquidity:%d", poolID, custodyID, jg.sequence)
	b := jg.newBatch(eventRef, timestamp, 2)

	jg.leg(b,
		NewExternalAccountKey(poolID),
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		netUSD, JournalTypeLiquidityWithdrawal, timestamp)

	jg.leg(b,
		NewCustodyAccountKey(custodyID, SubTypeProtocolFees),
		NewCustodyAccountKey(custodyID, SubTypeOwned),
		feeUSD, JournalTypeLiquidityFee, timestamp)

	return b
}

// GenerateSwap posts pool.Swap's two legs: the full amount in deposits into
// custody_in, the net (post-fee) amount out leaves custody_out, and each
// side's fee is reclassified into that custody's protocol fees.
func (jg *JournalGenerator) GenerateSwap(
	poolID, custodyInID, custodyOutID uuid.UUID,
	amountInUSD, netAmountOutUSD, feeInUSD, feeOutUSD int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:%s:%s:swap:%d", poolID, custodyInID, custodyOutID, jg.sequence)
	b := jg.newBatch(eventRef, timestamp, 4)

	jg.leg(b,
		NewCustodyAccountKey(custodyInID, SubTypeOwned),
		NewExternalAccountKey(poolID),
		amountInUSD, JournalTypeSwapIn, timestamp)
	jg.leg(b,
		NewCustodyAccountKey(custodyInID, SubTypeProtocolFees),
		NewCustodyAccountKey(custodyInID, SubTypeOwned),
		feeInUSD, JournalTypeSwapFee, timestamp)

	jg.leg(b,
		NewExternalAccountKey(poolID),
		NewCustodyAccountKey(custodyOutID, SubTypeOwned),
		netAmountOutUSD, JournalTypeSwapOut, timestamp)
	jg.leg(b,
		NewCustodyAccountKey(custodyOutID, SubTypeProtocolFees),
		NewCustodyAccountKey(custodyOutID, SubTypeOwned),
		feeOutUSD, JournalTypeSwapFee, timestamp)

	return b
}

// GenerateFeeWithdrawal posts admin.WithdrawFees's sweep of a custody's
// protocol fee balance to the treasury.
func (jg *JournalGenerator) GenerateFeeWithdrawal(
	custodyID uuid.UUID,
	amountUSD int64,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("%s:withdraw_fees:%d", custodyID, jg.sequence)
	b := jg.newBatch(eventRef, timestamp, 1)
	jg.leg(b,
		treasuryKey,
		NewCustodyAccountKey(custodyID, SubTypeProtocolFees),
		amountUSD, JournalTypeFeeWithdrawal, timestamp)
	return b
}
