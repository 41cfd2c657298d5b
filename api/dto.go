/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Amounts travel as decimal strings ("18446744073709551615"). JSON
  numbers lose precision above 2^53 in most clients, and every uint64
  must survive the round trip.

RANGES:
  Ranges use the compact storage form: {"start": 7} is the single ID 7,
  {"start": 0, "end": 9} is IDs 0 through 9.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ranges/storage.go: Stored range form
*/
package api

import (
	"time"

	"github.com/bitbadges/balance-engine/generic"
	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO is one balance group: an amount and every range holding it.
type BalanceDTO struct {
	Amount string          `json:"amount"`
	Ranges []ranges.Stored `json:"ranges"`
}

// EntryDTO is a single (amount, range) pair in badge ID order.
type EntryDTO struct {
	Amount string        `json:"amount"`
	Range  ranges.Stored `json:"range"`
}

// HolderBalancesResponse is a holder's ledger in both views.
type HolderBalancesResponse struct {
	CollectionID string       `json:"collection_id"`
	HolderID     string       `json:"holder_id"`
	Balances     []BalanceDTO `json:"balances"`
	Entries      []EntryDTO   `json:"entries"`
	// Total is the units held summed over every ID. Omitted when the sum
	// does not fit in 64 bits.
	Total string `json:"total,omitempty"`
}

// HoldersResponse lists the holders of a collection.
type HoldersResponse struct {
	CollectionID string   `json:"collection_id"`
	Holders      []string `json:"holders"`
}

// EligibilityResponse answers "does the holder own at least amount of every ID?".
type EligibilityResponse struct {
	HolderID string `json:"holder_id"`
	Amount   string `json:"amount"`
	Eligible bool   `json:"eligible"`
}

// RangesAmountRequest is the body of set, add and subtract.
type RangesAmountRequest struct {
	Ranges []ranges.Stored `json:"ranges"`
	Amount string          `json:"amount"`
}

// RangesRequest is the body of delete.
type RangesRequest struct {
	Ranges []ranges.Stored `json:"ranges"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// TransferRequest submits a transfer. ID is optional; one is assigned
// when omitted.
type TransferRequest struct {
	ID             string          `json:"id,omitempty"`
	From           string          `json:"from"`
	To             []string        `json:"to"`
	Ranges         []ranges.Stored `json:"ranges"`
	Amount         string          `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// TransferDTO represents an applied transfer in API responses.
type TransferDTO struct {
	ID             string          `json:"id"`
	CollectionID   string          `json:"collection_id"`
	From           string          `json:"from"`
	To             []string        `json:"to"`
	Ranges         []ranges.Stored `json:"ranges"`
	Amount         string          `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// TransferResponse is returned after a transfer is applied.
type TransferResponse struct {
	Transfer TransferDTO             `json:"transfer"`
	Balances map[string][]BalanceDTO `json:"balances"`
}

// SimulateRequest previews a sequence of transfers.
type SimulateRequest struct {
	Transfers []TransferRequest `json:"transfers"`
}

// SimulateResponse holds the post-transfer ledger of every touched holder.
type SimulateResponse struct {
	Balances map[string][]BalanceDTO `json:"balances"`
}

// =============================================================================
// MISC
// =============================================================================

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBalanceDTOs(l generic.Ledger) []BalanceDTO {
	out := make([]BalanceDTO, 0, len(l))
	for _, b := range l {
		stored := make([]ranges.Stored, len(b.Ranges))
		for i, r := range b.Ranges {
			stored[i] = ranges.Compact(r)
		}
		out = append(out, BalanceDTO{Amount: b.Amount.String(), Ranges: stored})
	}
	return out
}

func toEntryDTOs(l generic.Ledger) []EntryDTO {
	entries := l.Entries()
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryDTO{Amount: e.Amount.String(), Range: ranges.Compact(e.Range)})
	}
	return out
}

func toHolderBalances(c generic.CollectionID, h generic.HolderID, l generic.Ledger) HolderBalancesResponse {
	resp := HolderBalancesResponse{
		CollectionID: string(c),
		HolderID:     string(h),
		Balances:     toBalanceDTOs(l),
		Entries:      toEntryDTOs(l),
	}
	if total, err := l.Total(); err == nil {
		resp.Total = total.String()
	}
	return resp
}

func toLedgerMap(ledgers map[generic.HolderID]generic.Ledger) map[string][]BalanceDTO {
	out := make(map[string][]BalanceDTO, len(ledgers))
	for h, l := range ledgers {
		out[string(h)] = toBalanceDTOs(l)
	}
	return out
}

func toTransferDTO(t generic.Transfer) TransferDTO {
	to := make([]string, len(t.To))
	for i, h := range t.To {
		to[i] = string(h)
	}
	stored := make([]ranges.Stored, len(t.Ranges))
	for i, r := range t.Ranges {
		stored[i] = ranges.Compact(r)
	}
	return TransferDTO{
		ID:             string(t.ID),
		CollectionID:   string(t.CollectionID),
		From:           string(t.From),
		To:             to,
		Ranges:         stored,
		Amount:         t.Amount.String(),
		Memo:           t.Memo,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toTransfer parses a request into a domain transfer.
func (req TransferRequest) toTransfer(c generic.CollectionID) (generic.Transfer, error) {
	rs, err := ranges.FromStorageForm(req.Ranges)
	if err != nil {
		return generic.Transfer{}, err
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		return generic.Transfer{}, err
	}
	to := make([]generic.HolderID, len(req.To))
	for i, h := range req.To {
		to[i] = generic.HolderID(h)
	}
	return generic.Transfer{
		ID:             generic.TransferID(req.ID),
		CollectionID:   c,
		From:           generic.HolderID(req.From),
		To:             to,
		Ranges:         rs,
		Amount:         amount,
		Memo:           req.Memo,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}
