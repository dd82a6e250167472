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

const cartsCollection = "carts"

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ItemID     string `firestore:"itemId"`
	VariantKey string `firestore:"variantKey"`
	Quantity   int64  `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
}

// CartRepository stores each customer's cart under the user ID.
type CartRepository struct {
	base  *pfirestore.Collection[cartDocument]
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, clock func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{
		base:  pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		clock: clock,
	}, nil
}

func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{UserID: uid, UpdatedAt: doc.Data.UpdatedAt}
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ItemID:     item.ItemID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	return cart, nil
}

func (r *CartRepository) Replace(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := cartDocument{UpdatedAt: r.clock().UTC()}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ItemID:     item.ItemID,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	if err := r.base.Set(ctx, uid, doc); err != nil {
		return domain.Cart{}, err
	}
	cart.UserID = uid
	cart.UpdatedAt = doc.UpdatedAt
	return cart, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.base.Doc(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}
