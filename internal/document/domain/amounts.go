package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts is the fully resolved monetary breakdown of a document.
type Amounts struct {
	TaxBase     decimal.Decimal
	TaxAmount   decimal.Decimal
	Withholding decimal.Decimal
	Surcharge   decimal.Decimal
	Total       decimal.Decimal
}

// ResolveAmounts parses and completes the monetary fields of an issue
// request. Withholding and surcharge default to zero. A missing total is
// computed as base + tax + surcharge - withholding; a provided total must
// match that computation to the cent.
//
// This function is PURE:
// - No side effects
// - Fully deterministic
func ResolveAmounts(req IssueRequest) (Amounts, error) {
	taxBase, err := parseAmount(req.TaxBase)
	if err != nil {
		return Amounts{}, err
	}
	taxAmount, err := parseAmount(req.TaxAmount)
	if err != nil {
		return Amounts{}, err
	}
	withholding, err := parseOptionalAmount(req.WithholdingAmount)
	if err != nil {
		return Amounts{}, err
	}
	surcharge, err := parseOptionalAmount(req.SurchargeAmount)
	if err != nil {
		return Amounts{}, err
	}

	computed := taxBase.Add(taxAmount).Add(surcharge).Sub(withholding).Round(2)

	total := computed
	if req.TotalAmount != nil && strings.TrimSpace(*req.TotalAmount) != "" {
		provided, err := parseAmount(*req.TotalAmount)
		if err != nil {
			return Amounts{}, err
		}
		if !provided.Round(2).Equal(computed) {
			return Amounts{}, ErrAmountMismatch
		}
		total = provided.Round(2)
	}

	return Amounts{
		TaxBase:     taxBase.Round(2),
		TaxAmount:   taxAmount.Round(2),
		Withholding: withholding.Round(2),
		Surcharge:   surcharge.Round(2),
		Total:       total,
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return value, nil
}

func parseOptionalAmount(raw *string) (decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	return parseAmount(*raw)
}
