package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

// ErrUnsupportedProvider is returned when the registry cannot locate a gateway.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Registry maps payment methods to their gateway adapters. Cash on delivery
// never resolves: it has no gateway by definition.
type Registry struct {
	gateways map[domain.PaymentMethod]services.PaymentGateway
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithGateway registers an additional gateway for a method.
func WithGateway(method domain.PaymentMethod, gateway services.PaymentGateway) RegistryOption {
	return func(r *Registry) {
		if gateway != nil {
			r.gateways[method] = gateway
		}
	}
}

// NewRegistry constructs a Registry over the supplied gateways.
func NewRegistry(gateways map[domain.PaymentMethod]services.PaymentGateway, opts ...RegistryOption) (*Registry, error) {
	if len(gateways) == 0 && len(opts) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[domain.PaymentMethod]services.PaymentGateway, len(gateways))
	for method, gateway := range gateways {
		if gateway == nil {
			return nil, fmt.Errorf("payments: nil gateway registered for %q", method)
		}
		if method == domain.PaymentMethodCOD {
			return nil, errors.New("payments: cash on delivery takes no gateway")
		}
		copyMap[method] = gateway
	}
	r := &Registry{gateways: copyMap}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	return r, nil
}

// Gateway resolves the adapter for an online payment method.
func (r *Registry) Gateway(method domain.PaymentMethod) (services.PaymentGateway, bool) {
	if r == nil {
		return nil, false
	}
	gateway, ok := r.gateways[method]
	return gateway, ok
}

// ParseMethod normalises a provider key from transport input.
func ParseMethod(raw string) (domain.PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(domain.PaymentMethodRazorpay):
		return domain.PaymentMethodRazorpay, nil
	case string(domain.PaymentMethodStripe):
		return domain.PaymentMethodStripe, nil
	case string(domain.PaymentMethodCOD):
		return domain.PaymentMethodCOD, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, raw)
	}
}
