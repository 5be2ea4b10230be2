// Package domain defines execution attempt value objects.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	oppdomain "github.com/jm31-art/ultraflashbot/business/opportunity/domain"
)

// Status is the settlement state of one attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusRetrying  Status = "retrying"
	StatusFailed    Status = "failed"
)

// FundingPath names how an attempt's capital is sourced.
type FundingPath string

const (
	PathFlashloan FundingPath = "flashloan"
	PathDirect    FundingPath = "direct"
)

// Attempt is one submitted execution. It crosses from the coordinator to
// the settlement tracker as a snapshot; after handoff only the tracker
// writes it.
type Attempt struct {
	ID        string
	Reference string
	Kind      oppdomain.Kind
	Path      FundingPath

	TxHash   common.Hash
	Nonce    uint64
	GasLimit uint64
	Relay    string

	// EstimatedNetUSD is the pre-trade estimate. RealizedUSD is
	// reconstructed from confirmed logs and actual gas, and the two may
	// legitimately differ.
	EstimatedNetUSD decimal.Decimal
	AmountUSD       decimal.Decimal
	RealizedUSD     decimal.Decimal

	Status     Status
	Retries    int
	FailReason string

	GasUsed              uint64
	EffectiveGasPriceWei *big.Int

	SubmittedAt time.Time
	SettledAt   time.Time
}

// Terminal reports whether the attempt has reached an archived state.
func (a *Attempt) Terminal() bool {
	return a.Status == StatusConfirmed || a.Status == StatusFailed
}

func (a *Attempt) String() string {
	return fmt.Sprintf("%s %s via %s path: %s", a.Kind, a.Reference, a.Path, a.Status)
}
