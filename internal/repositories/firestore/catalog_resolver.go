package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
	"github.com/oakline-commerce/api/internal/services"
)

const productCollection = "products"

type productDocument struct {
	Name     string                    `firestore:"name"`
	ImageURL string                    `firestore:"imageUrl"`
	Active   bool                      `firestore:"active"`
	Variants map[string]productVariant `firestore:"variants"`
}

type productVariant struct {
	UnitPrice int64 `firestore:"unitPrice"`
	Active    bool  `firestore:"active"`
}

// CatalogResolver answers variant lookups from the product catalog. An
// inactive product or variant resolves with Exists false rather than an
// error, so order creation can report the exact line that went stale.
type CatalogResolver struct {
	base *pfirestore.Collection[productDocument]
}

var _ services.CatalogResolver = (*CatalogResolver)(nil)

// NewCatalogResolver constructs a Firestore-backed catalog resolver.
func NewCatalogResolver(provider *pfirestore.Provider) (*CatalogResolver, error) {
	if provider == nil {
		return nil, errors.New("catalog resolver requires firestore provider")
	}
	return &CatalogResolver{
		base: pfirestore.NewCollection[productDocument](provider, productCollection),
	}, nil
}

// ResolveVariant looks up current pricing and availability for one variant.
func (r *CatalogResolver) ResolveVariant(ctx context.Context, itemID, variantKey string) (services.ResolvedVariant, error) {
	itemID = strings.TrimSpace(itemID)
	variantKey = strings.TrimSpace(variantKey)
	resolved := services.ResolvedVariant{ItemID: itemID, VariantKey: variantKey}
	if itemID == "" || variantKey == "" {
		return resolved, nil
	}

	doc, err := r.base.Get(ctx, itemID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return resolved, nil
		}
		return services.ResolvedVariant{}, err
	}

	product := doc.Data
	resolved.Name = product.Name
	resolved.ImageURL = product.ImageURL
	if !product.Active {
		return resolved, nil
	}
	variant, ok := product.Variants[variantKey]
	if !ok || !variant.Active {
		return resolved, nil
	}
	resolved.UnitPrice = variant.UnitPrice
	resolved.Exists = true
	return resolved, nil
}
