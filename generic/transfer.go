/*
transfer.go - Moving badges between holders

PURPOSE:
  A transfer debits the sender's ledger and credits every recipient's
  ledger over the same ID ranges. It is the main caller of AddAmount and
  SubtractAmount, and Simulate is the "post-transfer balance" primitive
  used for previews and claim checks.

RULES:
  - Amount is per recipient: sending 2 of IDs 0-9 to 3 holders debits 6.
  - MintHolder is an unlimited source and is never debited.
  - Nobody can send to MintHolder, and the sender cannot be a recipient.
  - Debits fail closed: a sender short on any single ID rejects the
    whole transfer with InsufficientBalanceError.

ATOMICITY:
  Simulate works on the caller's map by value and returns a new map. The
  engine persists the result inside one store transaction, so several
  holders' ledgers change together or not at all.

SEE ALSO:
  - balance.go: AddAmount / SubtractAmount
  - engine.go: Loads, simulates and persists transfers
*/
package generic

import (
	"errors"
	"time"

	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer moves Amount units of every ID in Ranges from From to each of To.
type Transfer struct {
	ID             TransferID
	CollectionID   CollectionID
	From           HolderID
	To             []HolderID
	Ranges         []ranges.Range
	Amount         Amount
	Memo           string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Validate rejects transfers that can never succeed.
func (t Transfer) Validate() error {
	invalid := func(reason string) error {
		return &InvalidTransferError{TransferID: t.ID, Reason: reason}
	}
	switch {
	case t.From == "":
		return invalid("missing sender")
	case len(t.To) == 0:
		return invalid("no recipients")
	case t.Amount == 0:
		return invalid("amount must be positive")
	case len(t.Ranges) == 0:
		return invalid("no badge ids")
	}

	seen := make(map[HolderID]bool, len(t.To))
	for _, to := range t.To {
		switch {
		case to == "":
			return invalid("empty recipient")
		case to == MintHolder:
			return invalid("cannot transfer to Mint")
		case to == t.From:
			return invalid("sender cannot be a recipient")
		case seen[to]:
			return invalid("duplicate recipient " + string(to))
		}
		seen[to] = true
	}

	_, err := ranges.SortAndMerge(t.Ranges)
	return err
}

// Debit returns how many units of each ID the sender gives up.
func (t Transfer) Debit() (Amount, error) {
	return SafeMul(t.Amount, Amount(len(t.To)))
}

// Holders lists every ledger the transfer touches. Mint is omitted.
func (t Transfer) Holders() []HolderID {
	out := make([]HolderID, 0, len(t.To)+1)
	if t.From != MintHolder {
		out = append(out, t.From)
	}
	return append(out, t.To...)
}

// =============================================================================
// SIMULATION
// =============================================================================

// Simulate applies transfers in order to the given ledgers and returns
// the resulting ledger of every holder that was passed in or touched.
// Holders missing from ledgers start empty. The input map and its
// ledgers are not modified.
func Simulate(ledgers map[HolderID]Ledger, transfers []Transfer) (map[HolderID]Ledger, error) {
	out := make(map[HolderID]Ledger, len(ledgers))
	for h, l := range ledgers {
		out[h] = l
	}

	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return nil, err
		}

		if t.From != MintHolder {
			debit, err := t.Debit()
			if err != nil {
				return nil, err
			}
			next, err := SubtractAmount(out[t.From], t.Ranges, debit)
			if errors.Is(err, ErrUnderflow) {
				return nil, &InsufficientBalanceError{
					Holder:    t.From,
					Ranges:    t.Ranges,
					Requested: debit,
					Cause:     err,
				}
			}
			if err != nil {
				return nil, err
			}
			out[t.From] = next
		}

		for _, to := range t.To {
			next, err := AddAmount(out[to], t.Ranges, t.Amount)
			if err != nil {
				return nil, err
			}
			out[to] = next
		}
	}
	return out, nil
}
