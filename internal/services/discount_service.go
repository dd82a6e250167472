package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/oakline-commerce/api/internal/repositories"
)

var (
	// ErrDiscountNotFound marks unknown discount codes.
	ErrDiscountNotFound = errors.New("discount: not found")
	// ErrDiscountInactive marks codes that exist but may not be applied.
	ErrDiscountInactive = errors.New("discount: inactive or expired")
	// ErrDiscountInvalidInput marks malformed validation requests.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
)

// DiscountServiceDeps enumerates collaborators for discount validation.
type DiscountServiceDeps struct {
	Discounts repositories.DiscountRepository
}

type discountService struct {
	discounts repositories.DiscountRepository
}

// NewDiscountService wires the discount validation service.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}
	return &discountService{discounts: deps.Discounts}, nil
}

// normaliseCode folds full-width characters before uppercasing, so codes
// typed through CJK input methods match their stored form.
func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(width.Fold.String(code)))
}

// Validate checks that the code exists, is active, and has not expired.
// Codes are case-insensitive; stored records are uppercase.
func (s *discountService) Validate(ctx context.Context, code string, now time.Time) (Discount, error) {
	trimmed := normaliseCode(code)
	if trimmed == "" {
		return Discount{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	discount, err := s.discounts.FindByCode(ctx, trimmed)
	if err != nil {
		if isNotFound(err) {
			return Discount{}, fmt.Errorf("%w: %s", ErrDiscountNotFound, trimmed)
		}
		return Discount{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if !discount.Usable(now.UTC()) {
		return Discount{}, fmt.Errorf("%w: %s", ErrDiscountInactive, trimmed)
	}
	return discount, nil
}
