/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/marlin/loyalty-engine/coupon"
	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// AWARDS
// =============================================================================

// AwardRequest triggers one award attempt.
type AwardRequest struct {
	Category   string `json:"category"`
	TargetRef  string `json:"target_ref"`
	SelfTarget bool   `json:"self_target"`
}

// AwardResultDTO is the outcome of an award attempt. Denials come back with
// granted=0 and a reason; they are 200 responses, not errors.
type AwardResultDTO struct {
	EntryID      string `json:"entry_id,omitempty"`
	Granted      int64  `json:"granted"`
	NewBalance   int64  `json:"new_balance"`
	LimitReached bool   `json:"limit_reached"`
	DenyReason   string `json:"deny_reason,omitempty"`
}

func toAwardResultDTO(r ledger.AwardResult) AwardResultDTO {
	return AwardResultDTO{
		EntryID:      string(r.EntryID),
		Granted:      r.Granted,
		NewBalance:   r.NewBalance,
		LimitReached: r.LimitReached,
		DenyReason:   string(r.DenyReason),
	}
}

// DebitRequest is an administrative deduction.
type DebitRequest struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// BalanceDTO is one category's balance.
type BalanceDTO struct {
	Category string `json:"category"`
	Balance  int64  `json:"balance"`
}

// QuotaDTO is today's remaining allowance for one category.
type QuotaDTO struct {
	Category  string `json:"category"`
	Remaining int64  `json:"remaining"`
	Day       string `json:"day"`
}

// ReverseResultDTO is the outcome of a reversal.
type ReverseResultDTO struct {
	NewBalance int64 `json:"new_balance"`
}

// EntryDTO is one ledger entry in API responses.
type EntryDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Category  string `json:"category"`
	Amount    int64  `json:"amount"`
	Source    string `json:"source"`
	TargetRef string `json:"target_ref,omitempty"`
	Day       string `json:"day"`
	Reversed  bool   `json:"reversed"`
	CreatedAt string `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		AccountID: string(e.AccountID),
		Category:  string(e.Category),
		Amount:    e.Amount,
		Source:    string(e.Source),
		TargetRef: e.TargetRef,
		Day:       string(e.Day),
		Reversed:  e.Reversed,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// COUPONS
// =============================================================================

// IssueCouponRequest creates a coupon (admin).
type IssueCouponRequest struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	IsHalf    bool   `json:"is_half"`
}

// UseCouponRequest redeems a coupon at the counter.
type UseCouponRequest struct {
	Secret string `json:"secret"`
}

// CouponDTO is one coupon in API responses.
type CouponDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	IsHalf    bool   `json:"is_half"`
	State     string `json:"state"`
	IssuedAt  string `json:"issued_at"`
	UsedAt    string `json:"used_at,omitempty"`
}

func toCouponDTO(c coupon.Coupon) CouponDTO {
	dto := CouponDTO{
		ID:        string(c.ID),
		AccountID: string(c.AccountID),
		Reason:    c.Reason,
		IsHalf:    c.IsHalf,
		State:     string(c.State),
		IssuedAt:  c.IssuedAt.Format(time.RFC3339),
	}
	if c.UsedAt != nil {
		dto.UsedAt = c.UsedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO doubles as request and response shape for policy admin.
type PolicyDTO struct {
	Category           string `json:"category"`
	UnitAward          int64  `json:"unit_award"`
	DailyCap           int64  `json:"daily_cap"`
	DedupScope         string `json:"dedup_scope"`
	SelfTargetExcluded bool   `json:"self_target_excluded"`
	Version            int    `json:"version,omitempty"`
}

func toPolicyDTO(p ledger.Policy) PolicyDTO {
	return PolicyDTO{
		Category:           string(p.Category),
		UnitAward:          p.UnitAward,
		DailyCap:           p.DailyCap,
		DedupScope:         string(p.DedupScope),
		SelfTargetExcluded: p.SelfTargetExcluded,
		Version:            p.Version,
	}
}
