// Package admin implements the M-of-N multisig gate and permission-flag
// checks for privileged operations (spec ยง4.7). Grounded on original source
// state/multisig.rs's sign_multisig/set_signers instruction-hash-accumulator
// discipline, reimplemented with crypto/sha256 in place of ahash::AHasher
// (no third-party hashing library appears anywhere in the retrieval pack)
// combined with the teacher's permission-flag-on-global-singleton checks
// implicit in internal/core/engine.go's validation steps.
package admin

import (
	"crypto/sha256"
	"encoding/binary"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"

	"github.com/google/uuid"
)

// InstructionHash identifies a pending admin instruction so every signer is
// known to be approving the same payload (spec ยง4.7, ยง3 Multisig).
type InstructionHash = [32]byte

// HashInstruction folds an admin instruction's identifying fields into the
// pending hash the way get_instruction_hash folds account keys and
// serialized params, substituting sha256 for AHasher.
func HashInstruction(kind string, args ...string) InstructionHash {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, a := range args {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(a)))
		h.Write(lenBuf[:])
		h.Write([]byte(a))
	}
	var out InstructionHash
	copy(out[:], h.Sum(nil))
	return out
}

// SetSigners (re)initializes the multisig's signer set, resetting any
// pending signature collection (spec ยง3 Multisig's set_signers).
func SetSigners(m *domain.Multisig, signers []uuid.UUID, minSignatures int) error {
	next := domain.Multisig{Signers: signers, MinSignatures: minSignatures}
	if err := next.Validate(); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]bool, len(signers))
	for _, s := range signers {
		if seen[s] {
			return corerr.New(corerr.KindInvalidConfig, "admin.SetSigners", map[string]any{"duplicate": s})
		}
		seen[s] = true
	}
	*m = next
	m.PendingSignedBy = make(map[uuid.UUID]bool)
	return nil
}

// Sign records signer's approval of instruction (spec ยง4.7's multisig gate,
// grounded on sign_multisig). A signature against a different pending
// instruction than the one already accumulating resets the pending set,
// mirroring the source's "first signer establishes the hash" behavior.
// Returns the number of signatures still needed to reach quorum (0 means
// the instruction is now authorized).
func Sign(m *domain.Multisig, signer uuid.UUID, instruction InstructionHash) (remaining int, err error) {
	if !isSigner(m, signer) {
		return 0, corerr.New(corerr.KindNotAdmin, "admin.Sign", map[string]any{"signer": signer})
	}

	if m.PendingSignedBy == nil || len(m.PendingSignedBy) == 0 || m.PendingHash != instruction {
		m.PendingHash = instruction
		m.PendingSignedBy = map[uuid.UUID]bool{signer: true}
		return max0(m.MinSignatures - 1), nil
	}

	if m.PendingSignedBy[signer] {
		return 0, corerr.New(corerr.KindDuplicateSignature, "admin.Sign", map[string]any{"signer": signer})
	}

	m.PendingSignedBy[signer] = true
	remaining = max0(m.MinSignatures - len(m.PendingSignedBy))
	return remaining, nil
}

// Unsign revokes signer's pending signature, mirroring the source's
// remove_signature (spec ยง4.7).
func Unsign(m *domain.Multisig, signer uuid.UUID) {
	if len(m.Signers) <= 1 || len(m.PendingSignedBy) == 0 {
		return
	}
	delete(m.PendingSignedBy, signer)
}

// CheckQuorum verifies instruction has collected at least MinSignatures
// approvals and clears the pending state on success, so the operation can
// proceed exactly once per accumulated quorum (spec ยง4.7).
func CheckQuorum(m *domain.Multisig, instruction InstructionHash) error {
	if len(m.PendingSignedBy) == 0 {
		return corerr.New(corerr.KindBelowThreshold, "admin.CheckQuorum", map[string]any{
			"have": 0, "need": m.MinSignatures,
		})
	}
	if m.PendingHash != instruction {
		return corerr.New(corerr.KindInstructionMismatch, "admin.CheckQuorum", nil)
	}
	if len(m.PendingSignedBy) < m.MinSignatures {
		return corerr.New(corerr.KindBelowThreshold, "admin.CheckQuorum", map[string]any{
			"have": len(m.PendingSignedBy), "need": m.MinSignatures,
		})
	}
	m.PendingHash = InstructionHash{}
	m.PendingSignedBy = make(map[uuid.UUID]bool)
	return nil
}

func isSigner(m *domain.Multisig, id uuid.UUID) bool {
	for _, s := range m.Signers {
		if s == id {
			return true
		}
	}
	return false
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// CheckGlobalPermission gates an operation against the protocol-wide
// permission flags (spec ยง4.7 GlobalPermissions).
func CheckGlobalPermission(allowed bool, op string) error {
	if !allowed {
		return corerr.New(corerr.KindOperationDisabled, op, nil)
	}
	return nil
}

// WithdrawFees transfers the custody's accumulated protocol_fees out,
// zeroing the counter (spec Supplemented features: withdraw-fees admin op,
// grounded on multisig.rs's AdminInstruction::WithdrawFees).
func WithdrawFees(c *domain.Custody) (amount int64, err error) {
	if c.Assets.ProtocolFees <= 0 {
		return 0, nil
	}
	amount = c.Assets.ProtocolFees
	if amount > c.Assets.Owned {
		return 0, corerr.New(corerr.KindStateCorruption, "admin.WithdrawFees", map[string]any{"custody": c.ID})
	}
	c.Assets.Owned -= amount
	c.Assets.ProtocolFees = 0
	return amount, nil
}
