package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/vesoko/marketplace-api/internal/domain"
	"github.com/vesoko/marketplace-api/internal/repositories"
	"github.com/vesoko/marketplace-api/internal/shipping"
)

// ErrShippingInvalidInput indicates a structurally invalid request such as an
// empty cart. Per-seller and per-provider failures never surface here.
var ErrShippingInvalidInput = errors.New("shipping options: invalid input")

// Fixed same-day scheduling policy relative to quote time.
const (
	sameDayPickupDeadlineOffset  = 30 * time.Minute
	sameDayDropoffReadyOffset    = 60 * time.Minute
	sameDayDropoffDeadlineOffset = 4 * time.Hour
)

const (
	sameDayProviderName   = "courier"
	defaultFanOutParallel = 4
)

// expeditedDenylist filters out premium service tiers; the product offers
// ground/standard and same-day only. Matched case-insensitively as a
// substring of the carrier's service-level name.
var expeditedDenylist = []string{"air", "express", "next day", "2nd day", "3rd day", "overnight", "saver"}

// sameDayChecker gates courier quoting on driving distance.
type sameDayChecker interface {
	IsSameDayServiceable(ctx context.Context, originAddress, destAddress string) bool
}

// GetShippingOptionsCommand carries a checkout's cart lines and destination.
type GetShippingOptionsCommand struct {
	Items           []domain.CartLine
	CustomerAddress domain.Address
}

// ShippingServiceDeps wires the dependencies required by the shipping
// aggregator.
type ShippingServiceDeps struct {
	Rates       shipping.RateProvider
	Courier     shipping.CourierProvider
	Distance    sameDayChecker
	Stores      repositories.StoreRepository
	Grouper     *SellerGrouper
	Parallelism int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	rates       shipping.RateProvider
	courier     shipping.CourierProvider
	distance    sameDayChecker
	stores      repositories.StoreRepository
	grouper     *SellerGrouper
	parallelism int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewShippingService constructs the shipping aggregator validating required
// dependencies. Courier and Distance are optional as a pair: without both,
// same-day options are simply never offered.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Rates == nil {
		return nil, errors.New("shipping service: rate provider is required")
	}
	if deps.Stores == nil {
		return nil, errors.New("shipping service: store repository is required")
	}
	grouper := deps.Grouper
	if grouper == nil {
		grouper = NewSellerGrouper(deps.Logger)
	}
	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = defaultFanOutParallel
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingService{
		rates:       deps.Rates,
		courier:     deps.Courier,
		distance:    deps.Distance,
		stores:      deps.Stores,
		grouper:     grouper,
		parallelism: parallelism,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetShippingOptions groups the cart per seller and fetches each group's
// delivery options concurrently. One seller's provider failures never prevent
// another seller's options from being returned.
func (s *shippingService) GetShippingOptions(ctx context.Context, cmd GetShippingOptionsCommand) (domain.ShippingOptionsResult, error) {
	if len(cmd.Items) == 0 {
		return domain.ShippingOptionsResult{Success: false, ShippingGroups: []domain.ShippingGroup{}}, fmt.Errorf("%w: cart is empty", ErrShippingInvalidInput)
	}

	grouped := s.grouper.Group(ctx, cmd.Items)
	requestID := ulid.Make().String()

	result := domain.ShippingOptionsResult{
		Success:         true,
		RequestID:       requestID,
		ShippingGroups:  make([]domain.ShippingGroup, len(grouped.Groups)),
		UnassignedItems: grouped.Unassigned,
	}

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for idx, group := range grouped.Groups {
		eg.Go(func() error {
			result.ShippingGroups[idx] = s.fetchGroupOptions(groupCtx, group, cmd.CustomerAddress)
			return nil
		})
	}
	// Workers never return errors; Wait only fences the fan-out.
	_ = eg.Wait()

	s.logger(ctx, "shipping.options_fetched", map[string]any{
		"requestId":  requestID,
		"groups":     len(result.ShippingGroups),
		"unassigned": len(result.UnassignedItems),
	})

	return result, nil
}

// fetchGroupOptions resolves one seller's origin and composes their delivery
// options, same-day entry first.
func (s *shippingService) fetchGroupOptions(ctx context.Context, group domain.SellerGroup, customer domain.Address) domain.ShippingGroup {
	out := domain.ShippingGroup{
		GroupID:         group.SellerID,
		Items:           group.Items,
		DeliveryOptions: []domain.ShippingOption{},
	}

	store, err := s.stores.GetStore(ctx, group.SellerID)
	if err != nil {
		s.logger(ctx, "shipping.store_lookup_failed", map[string]any{
			"sellerId": group.SellerID,
			"error":    err.Error(),
		})
		out.Error = "seller shipping address unavailable"
		return out
	}
	if !store.HasShippingOrigin() {
		s.logger(ctx, "shipping.store_address_missing", map[string]any{"sellerId": group.SellerID})
		out.Error = "seller shipping address unavailable"
		return out
	}
	origin := *store.Address

	sameDay, sameDayErr := s.fetchSameDayOption(ctx, group, origin, customer)
	standard := s.fetchStandardOptions(ctx, group, origin, customer)

	if sameDay != nil {
		out.DeliveryOptions = append(out.DeliveryOptions, *sameDay)
	}
	out.DeliveryOptions = append(out.DeliveryOptions, standard...)
	out.SameDayError = sameDayErr
	return out
}

// fetchStandardOptions shops carrier rates for the group's parcel and selects
// the cheapest and fastest non-expedited services. A provider failure is
// logged and yields no standard options for this seller only.
func (s *shippingService) fetchStandardOptions(ctx context.Context, group domain.SellerGroup, origin, customer domain.Address) []domain.ShippingOption {
	parcel := BuildParcel(group.Items)

	rates, err := s.rates.FetchRates(ctx, shipping.RateRequest{
		AddressFrom: origin,
		AddressTo:   customer,
		Parcel:      parcel,
	})
	if err != nil {
		s.logger(ctx, "shipping.rates_failed", map[string]any{
			"sellerId": group.SellerID,
			"error":    err.Error(),
		})
		return nil
	}

	selected := SelectStandardRates(rates)
	options := make([]domain.ShippingOption, 0, len(selected))
	for _, rate := range selected {
		options = append(options, s.toStandardOption(rate))
	}
	return options
}

// SelectStandardRates filters expedited service levels and picks the cheapest
// rate plus the fastest remaining rate that reports a transit estimate. The
// fastest pick is skipped when it is the same rate as the cheapest. An empty
// result is a legitimate outcome, not an error.
func SelectStandardRates(rates []shipping.Rate) []shipping.Rate {
	eligible := make([]shipping.Rate, 0, len(rates))
	for _, rate := range rates {
		if isExpedited(rate.ServiceLevel) {
			continue
		}
		eligible = append(eligible, rate)
	}
	if len(eligible) == 0 {
		return nil
	}

	cheapest := eligible[0]
	for _, rate := range eligible[1:] {
		if rate.Amount < cheapest.Amount {
			cheapest = rate
		}
	}

	var fastest *shipping.Rate
	for i := range eligible {
		rate := eligible[i]
		if rate.EstimatedDays == nil {
			continue
		}
		if fastest == nil || *rate.EstimatedDays < *fastest.EstimatedDays {
			fastest = &eligible[i]
		}
	}

	selected := []shipping.Rate{cheapest}
	if fastest != nil && fastest.ObjectID != cheapest.ObjectID {
		selected = append(selected, *fastest)
	}
	return selected
}

func isExpedited(serviceLevel string) bool {
	name := strings.ToLower(serviceLevel)
	for _, banned := range expeditedDenylist {
		if strings.Contains(name, banned) {
			return true
		}
	}
	return false
}

func (s *shippingService) toStandardOption(rate shipping.Rate) domain.ShippingOption {
	option := domain.ShippingOption{
		RateID:        rate.ObjectID,
		Price:         rate.Amount,
		Provider:      rate.Provider,
		ServiceLevel:  rate.ServiceLevel,
		DurationTerms: rate.DurationTerms,
		Type:          domain.ShippingStandard,
	}
	if rate.EstimatedDays != nil && *rate.EstimatedDays > 0 {
		delivery := s.now().AddDate(0, 0, *rate.EstimatedDays)
		option.DeliveryTime = delivery
		option.Label = "Arrives by " + delivery.Format("Monday, Jan 2")
	} else if rate.DurationTerms != "" {
		option.Label = rate.DurationTerms
	} else {
		option.Label = rate.ServiceLevel
	}
	return option
}

// fetchSameDayOption checks distance eligibility and requests a courier quote
// under the fixed scheduling policy. Returns (nil, "") when same-day simply
// is not offered, and (nil, reason) when the courier API failed after the
// distance gate passed.
func (s *shippingService) fetchSameDayOption(ctx context.Context, group domain.SellerGroup, origin, customer domain.Address) (*domain.ShippingOption, string) {
	if s.courier == nil || s.distance == nil {
		return nil, ""
	}
	if !s.distance.IsSameDayServiceable(ctx, origin.OneLine(), customer.OneLine()) {
		return nil, ""
	}

	now := s.now()
	quote, err := s.courier.QuoteDelivery(ctx, shipping.CourierQuoteRequest{
		PickupAddress:      origin.OneLine(),
		DropoffAddress:     customer.OneLine(),
		PickupDeadline:     now.Add(sameDayPickupDeadlineOffset),
		DropoffReady:       now.Add(sameDayDropoffReadyOffset),
		DropoffDeadline:    now.Add(sameDayDropoffDeadlineOffset),
		ManifestTotalValue: groupValueMinorUnits(group),
	})
	if err != nil {
		s.logger(ctx, "shipping.same_day_quote_failed", map[string]any{
			"sellerId": group.SellerID,
			"error":    err.Error(),
		})
		return nil, "same-day quote unavailable"
	}

	eta := quote.DropoffETA
	if eta.IsZero() && quote.DurationMinutes > 0 {
		eta = now.Add(time.Duration(quote.DurationMinutes) * time.Minute)
	}

	option := domain.ShippingOption{
		RateID:        quote.ID,
		Label:         "Same-Day Delivery",
		DeliveryTime:  eta,
		Price:         float64(quote.Fee) / 100,
		Provider:      sameDayProviderName,
		ServiceLevel:  "same_day",
		DurationTerms: sameDayDurationTerms(quote.DurationMinutes),
		Type:          domain.ShippingSameDay,
	}
	return &option, ""
}

func sameDayDurationTerms(minutes int) string {
	if minutes <= 0 {
		return "Delivered today"
	}
	return fmt.Sprintf("Delivered within %d minutes", minutes)
}

func groupValueMinorUnits(group domain.SellerGroup) int64 {
	var total float64
	for _, line := range group.Items {
		total += line.Subtotal()
	}
	return int64(math.Round(total * 100))
}
