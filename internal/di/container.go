package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/payments"
	"github.com/oakline-commerce/api/internal/platform/config"
	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/platform/jobs"
	"github.com/oakline-commerce/api/internal/repositories"
	firestoreRepo "github.com/oakline-commerce/api/internal/repositories/firestore"
	"github.com/oakline-commerce/api/internal/services"
	"github.com/oakline-commerce/api/internal/shipping"
)

// Services bundles the service-layer contracts the handlers depend on.
type Services struct {
	Inventory  services.InventoryService
	Orders     services.OrderService
	Discounts  services.DiscountService
	Reconciler services.PaymentReconciler
}

// Container wires storage, external gateways, and the service layer into one
// runtime graph. Handlers and HTTP middleware are assembled by the caller.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Provider *pfirestore.Provider

	Repositories repositories.Registry
	Services     Services
	Gateways     *payments.Registry
	Shipping     *shipping.Client

	pubsubClient *pubsub.Client
	clock        func() time.Time
	registry     repositories.Registry
	catalog      services.CatalogResolver
	publisher    services.OrderEventPublisher

	// The Firestore-backed registry closes the provider itself; when the
	// registry is injected the container closes the provider directly.
	registryOwnsProvider bool
}

// ContainerOption overrides a default dependency, mainly for tests.
type ContainerOption func(*Container)

// WithClock injects a deterministic time source.
func WithClock(clock func() time.Time) ContainerOption {
	return func(c *Container) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRegistry supplies a pre-built repository registry instead of the
// Firestore-backed one.
func WithRegistry(reg repositories.Registry) ContainerOption {
	return func(c *Container) {
		c.registry = reg
	}
}

// WithCatalogResolver supplies a catalog collaborator instead of the
// Firestore-backed one.
func WithCatalogResolver(catalog services.CatalogResolver) ContainerOption {
	return func(c *Container) {
		c.catalog = catalog
	}
}

// WithEventPublisher supplies an order event publisher instead of the
// Pub/Sub one.
func WithEventPublisher(pub services.OrderEventPublisher) ContainerOption {
	return func(c *Container) {
		c.publisher = pub
	}
}

// NewContainer assembles the runtime dependencies from configuration. The
// returned container owns the Firestore provider and the Pub/Sub client;
// Close releases both.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...ContainerOption) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.registry == nil || c.catalog == nil {
		c.Provider = pfirestore.NewProvider(cfg.Firestore)
	}

	if c.registry == nil {
		reg, err := firestoreRepo.NewRegistry(c.Provider, c.clock)
		if err != nil {
			return nil, fmt.Errorf("build repository registry: %w", err)
		}
		c.registry = reg
		c.registryOwnsProvider = true
	}
	c.Repositories = c.registry

	if c.catalog == nil {
		catalog, err := firestoreRepo.NewCatalogResolver(c.Provider)
		if err != nil {
			return nil, fmt.Errorf("build catalog resolver: %w", err)
		}
		c.catalog = catalog
	}

	if c.publisher == nil && cfg.Events.ProjectID != "" && cfg.Events.OrderTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.OrderTopic))
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
		c.pubsubClient = client
		c.publisher = publisher
	}

	if err := c.buildGateways(); err != nil {
		return nil, err
	}
	if err := c.buildShipping(); err != nil {
		return nil, err
	}
	if err := c.buildServices(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the Firestore provider and the Pub/Sub client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	if c.Provider != nil && !c.registryOwnsProvider {
		if err := c.Provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildGateways() error {
	cfg := c.Config.Payments
	gateways := make(map[domain.PaymentMethod]services.PaymentGateway)

	if cfg.Razorpay.KeyID != "" {
		gateway, err := payments.NewRazorpayGateway(payments.RazorpayGatewayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			Logger:        c.eventLogger("razorpay"),
			Clock:         c.clock,
		})
		if err != nil {
			return fmt.Errorf("build razorpay gateway: %w", err)
		}
		gateways[domain.PaymentMethodRazorpay] = gateway
	}

	if cfg.Stripe.APIKey != "" {
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        c.eventLogger("stripe"),
			Clock:         c.clock,
		})
		if err != nil {
			return fmt.Errorf("build stripe gateway: %w", err)
		}
		gateways[domain.PaymentMethodStripe] = gateway
	}

	if len(gateways) == 0 {
		return errors.New("no payment gateway configured")
	}
	registry, err := payments.NewRegistry(gateways)
	if err != nil {
		return fmt.Errorf("build gateway registry: %w", err)
	}
	c.Gateways = registry
	return nil
}

func (c *Container) buildShipping() error {
	cfg := c.Config.Shipping
	if cfg.BaseURL == "" {
		return nil
	}
	client, err := shipping.NewClient(shipping.ClientConfig{
		BaseURL:    cfg.BaseURL,
		Email:      cfg.Email,
		Password:   cfg.Password,
		PickupName: cfg.PickupName,
		TokenTTL:   cfg.TokenTTL,
		Logger:     c.eventLogger("shipping"),
		Clock:      c.clock,
	})
	if err != nil {
		return fmt.Errorf("build shipping client: %w", err)
	}
	c.Shipping = client
	return nil
}

func (c *Container) buildServices() error {
	reg := c.Repositories

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     c.clock,
		Logger:    c.eventLogger("inventory"),
	})
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}

	discounts, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: reg.Discounts(),
	})
	if err != nil {
		return fmt.Errorf("build discount service: %w", err)
	}

	orderDeps := services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Carts:          reg.Carts(),
		Counters:       reg.Counters(),
		Inventory:      inventory,
		Catalog:        c.catalog,
		Events:         c.publisher,
		UnitOfWork:     reg,
		Clock:          c.clock,
		IDGenerator:    newOrderID,
		TokenGenerator: newTrackingToken,
	}
	if c.Config.Features.EnableDiscounts {
		orderDeps.Discounts = discounts
	}
	if c.Shipping != nil {
		orderDeps.Shipping = c.Shipping
	}
	orders, err := services.NewOrderService(orderDeps, services.WithOrderLogger(c.eventLogger("orders")))
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:   reg.Orders(),
		Gateways: c.Gateways,
		Events:   c.publisher,
		Clock:    c.clock,
		Logger:   c.eventLogger("payments"),
	})
	if err != nil {
		return fmt.Errorf("build payment reconciler: %w", err)
	}

	c.Services = Services{
		Inventory:  inventory,
		Orders:     orders,
		Discounts:  discounts,
		Reconciler: reconciler,
	}
	return nil
}

// eventLogger adapts zap to the event-plus-fields logging shape the service
// layer and the gateway adapters use.
func (c *Container) eventLogger(component string) func(ctx context.Context, event string, fields map[string]any) {
	logger := c.Logger.Named(component)
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func newOrderID() string {
	return "ord_" + ulid.Make().String()
}

func newTrackingToken() string {
	return "trk_" + strings.ToLower(ulid.Make().String())
}
