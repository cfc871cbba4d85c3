package explorer

import "strings"

// Validator applies a chain policy's acceptance rules to raw transfers.
// Validation is pure: no I/O, no state, same input always same verdict.
type Validator struct {
	policy *ChainPolicy
}

// NewValidator builds a validator for one chain policy
func NewValidator(policy *ChainPolicy) *Validator {
	return &Validator{policy: policy}
}

// ValidTx reports whether a raw transfer passes every policy check.
// Rejection here is silent filtering of upstream noise, not an error.
func (v *Validator) ValidTx(tx *RawTx) bool {
	if tx == nil || tx.Hash == "" {
		return false
	}
	if v.policy.RequireSuccess && !tx.Success {
		return false
	}
	if !v.validContract(tx) {
		return false
	}
	if !v.validProgramID(tx) {
		return false
	}
	if !v.validAmount(tx) {
		return false
	}
	if v.policy.TransactionHook != nil && !v.policy.TransactionHook(tx) {
		return false
	}
	return true
}

// validContract accepts main-coin transfers always and token transfers only
// for configured contracts
func (v *Validator) validContract(tx *RawTx) bool {
	if tx.Contract == "" {
		return true
	}
	if len(v.policy.ValidContracts) == 0 {
		return false
	}
	_, ok := v.policy.ValidContracts[strings.ToLower(tx.Contract)]
	return ok
}

func (v *Validator) validProgramID(tx *RawTx) bool {
	if len(v.policy.ValidProgramIDs) == 0 || tx.ProgramID == "" {
		return true
	}
	_, ok := v.policy.ValidProgramIDs[tx.ProgramID]
	return ok
}

// validAmount applies the per-chain dust boundary. The default boundary
// rejects value <= min; chains with DustInclusiveMin reject only value < min.
func (v *Validator) validAmount(tx *RawTx) bool {
	precision := v.policy.Precision
	if tx.Contract != "" {
		if info, ok := v.policy.ValidContracts[strings.ToLower(tx.Contract)]; ok {
			precision = info.Precision
		}
	}
	value := FromUnit(tx.ValueRaw, precision)
	if value.IsNegative() {
		return false
	}
	min := v.policy.MinValidTxAmount
	if v.policy.DustInclusiveMin {
		return value.GreaterThanOrEqual(min)
	}
	return value.GreaterThan(min)
}

// ValidBalance rejects structurally broken balance envelopes
func (v *Validator) ValidBalance(b *RawBalance) bool {
	return b != nil && b.Address != "" && b.BalanceRaw != nil && b.BalanceRaw.Sign() >= 0
}
