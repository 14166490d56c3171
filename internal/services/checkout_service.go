package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/payments"
	"github.com/vesoko/marketplace-api/internal/repositories"
)

const checkoutCurrency = "USD"

// Sentinel errors the handlers map onto HTTP status codes.
var (
	ErrCheckoutInvalidInput  = errors.New("checkout: invalid input")
	ErrCheckoutUnavailable   = errors.New("checkout: unavailable")
	ErrCheckoutCartNotReady  = errors.New("checkout: cart not ready")
	ErrCheckoutConflict      = errors.New("checkout: conflict")
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutSessionManager is the slice of payments.Manager the service needs.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps lists the collaborators of the checkout service.
type CheckoutServiceDeps struct {
	Carts           repositories.CartRepository
	Grouper         *SellerGrouper
	Fees            *FeeEngine
	Payments        checkoutSessionManager
	Publisher       SettlementPublisher
	DefaultFeeModel domain.FeeModel
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts           repositories.CartRepository
	grouper         *SellerGrouper
	fees            *FeeEngine
	payments        checkoutSessionManager
	publisher       SettlementPublisher
	defaultFeeModel domain.FeeModel
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService builds the checkout service. The publisher and logger
// are optional, everything else is required.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Grouper == nil:
		return nil, errors.New("checkout service: seller grouper is required")
	case deps.Fees == nil:
		return nil, errors.New("checkout service: fee engine is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment manager is required")
	}

	model := deps.DefaultFeeModel
	if model == "" {
		model = domain.FeeModelGrossUp
	}
	if model != domain.FeeModelGrossUp && model != domain.FeeModelAbsorb {
		return nil, fmt.Errorf("checkout service: unknown fee model %q", model)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:           deps.Carts,
		grouper:         deps.Grouper,
		fees:            deps.Fees,
		payments:        deps.Payments,
		publisher:       deps.Publisher,
		defaultFeeModel: model,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession settles the cart per seller, opens a PSP session for the buyer
// total, records the session on the cart, and emits a settlement event.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	if s == nil || s.carts == nil || s.payments == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	feeModel, err := s.resolveFeeModel(cmd.FeeModel)
	if err != nil {
		return CheckoutSession{}, err
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return CheckoutSession{}, cartError(err)
	}
	if cartID := strings.TrimSpace(cmd.CartID); cartID != "" && !strings.EqualFold(cart.ID, cartID) {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	if len(cart.Items) == 0 {
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}

	grouped := s.grouper.Group(ctx, cart.Items)
	if len(grouped.Unassigned) > 0 {
		s.logger(ctx, "checkout.unassigned_items", map[string]any{
			"userID": userID,
			"cartID": cart.ID,
			"count":  len(grouped.Unassigned),
		})
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}
	if len(grouped.Groups) == 0 {
		return CheckoutSession{}, ErrCheckoutCartNotReady
	}

	suborders := buildSuborders(grouped.Groups, cmd.ShippingSelections)
	settlement, err := s.fees.CalculateMultiSeller(suborders, feeModel == domain.FeeModelGrossUp)
	if err != nil {
		if errors.Is(err, ErrFeeInvalidInput) {
			return CheckoutSession{}, ErrCheckoutInvalidInput
		}
		return CheckoutSession{}, ErrCheckoutUnavailable
	}

	idempotencyKey := s.checkoutIdempotencyKey(cmd, cart, settlement)
	session, err := s.createPSPSession(ctx, cmd, cart, settlement, successURL, cancelURL, idempotencyKey, string(feeModel))
	if err != nil {
		return CheckoutSession{}, err
	}

	if err := s.persistCheckoutMetadata(ctx, cart, settlement, session, idempotencyKey); err != nil {
		return CheckoutSession{}, err
	}

	s.publishSettlement(ctx, cart, settlement, session.ID)

	return CheckoutSession{
		SessionID:    session.ID,
		PSP:          session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt.UTC(),
		Settlement:   settlement,
	}, nil
}

func (s *checkoutService) resolveFeeModel(requested string) (domain.FeeModel, error) {
	trimmed := strings.ToLower(strings.TrimSpace(requested))
	if trimmed == "" {
		return s.defaultFeeModel, nil
	}
	switch domain.FeeModel(trimmed) {
	case domain.FeeModelGrossUp:
		return domain.FeeModelGrossUp, nil
	case domain.FeeModelAbsorb:
		return domain.FeeModelAbsorb, nil
	default:
		return "", ErrCheckoutInvalidInput
	}
}

func buildSuborders(groups []domain.SellerGroup, shipping map[string]float64) []domain.SubOrder {
	suborders := make([]domain.SubOrder, 0, len(groups))
	for _, group := range groups {
		var subtotal, tax float64
		for _, line := range group.Items {
			subtotal += line.Subtotal()
			tax += line.Subtotal() * line.TaxRate
		}
		suborders = append(suborders, domain.SubOrder{
			SellerID:        group.SellerID,
			ProductSubtotal: subtotal,
			TaxAmount:       tax,
			ShippingCost:    shipping[group.SellerID],
		})
	}
	return suborders
}

func (s *checkoutService) createPSPSession(ctx context.Context, cmd CreateCheckoutSessionCommand, cart domain.Cart, settlement domain.MultiSellerSettlement, successURL, cancelURL, idempotencyKey, feeModel string) (payments.CheckoutSession, error) {
	amount := toMinorUnits(settlement.CustomerTotal)
	if amount <= 0 {
		return payments.CheckoutSession{}, ErrCheckoutCartNotReady
	}

	paymentCtx := payments.PaymentContext{
		Currency: checkoutCurrency,
		Metadata: copyStringMap(cmd.Metadata),
	}

	metadata := map[string]string{
		"cart_id":        cart.ID,
		"user_id":        cart.UserID,
		"fee_model":      feeModel,
		"idempotencyKey": idempotencyKey,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		metadata[k] = v
	}

	req := payments.CheckoutSessionRequest{
		Amount:         amount,
		Currency:       checkoutCurrency,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
		Items:          buildCheckoutLineItems(cart, amount),
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentCtx, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.CheckoutSession{}, ErrCheckoutInvalidInput
		}
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"userID": cart.UserID,
			"cartID": cart.ID,
			"error":  err.Error(),
		})
		return payments.CheckoutSession{}, ErrCheckoutPaymentFailed
	}
	return session, nil
}

func (s *checkoutService) persistCheckoutMetadata(ctx context.Context, cart domain.Cart, settlement domain.MultiSellerSettlement, session payments.CheckoutSession, idempotencyKey string) error {
	originalUpdated := cart.UpdatedAt
	metadata := map[string]any{
		"checkout": map[string]any{
			"sessionId":      session.ID,
			"provider":       session.Provider,
			"redirectUrl":    session.RedirectURL,
			"intentId":       session.IntentID,
			"expiresAt":      session.ExpiresAt.UTC(),
			"idempotencyKey": idempotencyKey,
			"feeModel":       string(settlement.FeeModel),
			"customerTotal":  settlement.CustomerTotal,
			"updatedAt":      s.now(),
		},
	}

	if err := s.carts.SetCheckoutMetadata(ctx, cart.ID, metadata, &originalUpdated); err != nil {
		return cartError(err)
	}
	return nil
}

func (s *checkoutService) publishSettlement(ctx context.Context, cart domain.Cart, settlement domain.MultiSellerSettlement, sessionID string) {
	if s.publisher == nil {
		return
	}

	sellerIDs := make([]string, 0, len(settlement.Suborders))
	for _, suborder := range settlement.Suborders {
		sellerIDs = append(sellerIDs, suborder.SellerID)
	}
	sort.Strings(sellerIDs)

	message := SettlementComputedMessage{
		CartID:               cart.ID,
		UserID:               cart.UserID,
		CheckoutSessionID:    sessionID,
		FeeModel:             string(settlement.FeeModel),
		CustomerTotal:        settlement.CustomerTotal,
		TotalSellerPayouts:   settlement.TotalSellerPayouts,
		TotalPlatformRevenue: settlement.TotalPlatformRevenue,
		SellerIDs:            sellerIDs,
		ComputedAt:           s.now(),
	}

	// Publishing is best effort; the session is already created.
	if _, err := s.publisher.PublishSettlementComputed(ctx, message); err != nil {
		s.logger(ctx, "checkout.settlement_publish_failed", map[string]any{
			"cartID":    cart.ID,
			"sessionID": sessionID,
			"error":     err.Error(),
		})
	}
}

// checkoutIdempotencyKey prefers a caller supplied key and otherwise derives
// one from the cart revision and the settlement, so retrying the same cart
// state reuses the same PSP session.
func (s *checkoutService) checkoutIdempotencyKey(cmd CreateCheckoutSessionCommand, cart domain.Cart, settlement domain.MultiSellerSettlement) string {
	for _, name := range []string{"idempotency_key", "idempotencyKey"} {
		if key := metadataValue(cmd.Metadata, name); key != "" {
			return key
		}
	}
	base := fmt.Sprintf("%s|%s|%s|%d", cart.ID, cart.UpdatedAt.UTC().Format(time.RFC3339Nano), settlement.FeeModel, toMinorUnits(settlement.CustomerTotal))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// cartError maps repository failures onto the checkout sentinels.
func cartError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	switch {
	case !errors.As(err, &repoErr):
		return ErrCheckoutUnavailable
	case repoErr.IsNotFound():
		return ErrCheckoutCartNotReady
	case repoErr.IsConflict():
		return ErrCheckoutConflict
	}
	return ErrCheckoutUnavailable
}

func buildCheckoutLineItems(cart domain.Cart, total int64) []payments.CheckoutLineItem {
	aggregate := []payments.CheckoutLineItem{{
		Name:     "Order",
		Quantity: 1,
		Amount:   total,
		Currency: checkoutCurrency,
	}}

	items := make([]payments.CheckoutLineItem, 0, len(cart.Items))
	var itemTotal int64
	for _, line := range cart.Items {
		if line.Quantity <= 0 || line.UnitPrice <= 0 {
			continue
		}
		amount := toMinorUnits(line.UnitPrice)
		items = append(items, payments.CheckoutLineItem{
			Name:     lineItemName(line),
			SKU:      strings.TrimSpace(line.ProductID),
			Quantity: int64(line.Quantity),
			Amount:   amount,
			Currency: checkoutCurrency,
		})
		itemTotal += amount * int64(line.Quantity)
	}

	// Taxes, shipping, and grossed-up fees push the charge past the raw item
	// sum. Per-item lines are only usable while they still add up to the total.
	if len(items) == 0 || total <= 0 || itemTotal != total {
		return aggregate
	}
	return items
}

func lineItemName(line domain.CartLine) string {
	if name := strings.TrimSpace(line.Title); name != "" {
		return name
	}
	if name := strings.TrimSpace(line.ProductID); name != "" {
		return name
	}
	return "Item"
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func metadataValue(meta map[string]string, key string) string {
	if len(meta) == 0 {
		return ""
	}
	return strings.TrimSpace(meta[key])
}

func copyStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	return maps.Clone(values)
}
