package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
)

const discountsCollection = "discounts"

type discountDocument struct {
	Type      string     `firestore:"type"`
	Value     int64      `firestore:"value"`
	Active    bool       `firestore:"active"`
	ExpiresAt *time.Time `firestore:"expiresAt,omitempty"`
}

// DiscountRepository reads discount records keyed by their uppercased code.
type DiscountRepository struct {
	base *pfirestore.Collection[discountDocument]
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		base: pfirestore.NewCollection[discountDocument](provider, discountsCollection),
	}, nil
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Discount{}, errors.New("discount repository: code is required")
	}
	doc, err := r.base.Get(ctx, normalized)
	if err != nil {
		return domain.Discount{}, err
	}
	return domain.Discount{
		Code:      normalized,
		Type:      domain.DiscountType(doc.Data.Type),
		Value:     doc.Data.Value,
		Active:    doc.Data.Active,
		ExpiresAt: doc.Data.ExpiresAt,
	}, nil
}
