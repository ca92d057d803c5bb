package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/config"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeService manages Stripe integration: wallet topups through one-off
// Checkout sessions and plan lifecycle through subscription webhooks.
type StripeService struct {
	cfg             *config.Config
	userRepo        repository.UserRepository
	planSvc         PlanService
	walletSvc       WalletService
	provisioningSvc ProvisioningService
	logger          zerolog.Logger
}

// NewStripeService initializes Stripe key and returns service with a scoped logger
func NewStripeService(cfg *config.Config, userRepo repository.UserRepository, planSvc PlanService, walletSvc WalletService, provisioningSvc ProvisioningService, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	lg := logger.With().Str("service", "StripeService").Logger()
	return &StripeService{cfg: cfg, userRepo: userRepo, planSvc: planSvc, walletSvc: walletSvc, provisioningSvc: provisioningSvc, logger: lg}
}

// tierForPrice maps a configured Stripe price to its tier. Unknown prices map
// to FREE so a stale webhook can never grant a paid tier.
func (s *StripeService) tierForPrice(priceID string) model.Tier {
	switch priceID {
	case s.cfg.StripePriceBasic:
		return model.TierBasic
	case s.cfg.StripePricePro:
		return model.TierPro
	case s.cfg.StripePriceProPlus:
		return model.TierProPlus
	case s.cfg.StripePriceCreator:
		return model.TierCreator
	default:
		return model.TierFree
	}
}

func planStatusFromStripe(status stripe.SubscriptionStatus, cancelAtPeriodEnd bool) string {
	switch {
	case status == stripe.SubscriptionStatusCanceled:
		return model.PlanStatusExpired
	case status == stripe.SubscriptionStatusPastDue || status == stripe.SubscriptionStatusUnpaid:
		return model.PlanStatusSuspended
	case cancelAtPeriodEnd:
		// Paid through the period end; the window on the plan row bounds it.
		return model.PlanStatusActive
	default:
		return model.PlanStatusActive
	}
}

// getUserIDFromEvent is a helper method to resolve user ID from webhook metadata or customer ID
func (s *StripeService) getUserIDFromEvent(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID, ok := metadata["user_id"]; ok && userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", errors.New("cannot determine user: missing metadata and customer id")
	}
	s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Missing user_id metadata; looking up user by customer ID")
	u, err := s.userRepo.GetUserByStripeCustomerID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to lookup user by Stripe customer ID: %w", err)
	}
	if u == nil {
		return "", fmt.Errorf("no user found for customer ID: %s", customerID)
	}
	return u.UserID, nil
}

// GetOrCreateCustomer ensures a Stripe Customer exists for a user
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	s.logger.Warn().Str("user_id", user.UserID).Msg("No Stripe customer ID found, creating customer as fallback")
	return s.CreateCustomer(ctx, user)
}

// CreateCustomer creates a new Stripe customer for a user
func (s *StripeService) CreateCustomer(ctx context.Context, user *model.User) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Name:     stripe.String(user.Name),
		Metadata: map[string]string{"user_id": user.UserID},
	}
	cust, err := customerpkg.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to store stripe customer id in user_profiles")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	// First billing touchpoint: seed the baseline FREE plan row so the plan
	// history is never empty. Tier resolution does not depend on it.
	if err := s.planSvc.EnsureFreePlan(ctx, user.UserID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("Failed to seed free plan row")
	}
	return cust.ID, nil
}

// CreateTopupSession creates a one-off payment Checkout session for a wallet
// topup and returns its URL. The session id later arrives on the webhook and
// becomes the ledger external ref.
func (s *StripeService) CreateTopupSession(ctx context.Context, userID string, amountCents int64) (string, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for topup session")
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("user not found: %s", userID)
	}
	customerID, err := s.GetOrCreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	sessParams := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(amountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Wallet top-up"),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.cfg.StripeReturnURL + "?status=success"),
		CancelURL:  stripe.String(s.cfg.StripeReturnURL + "?status=cancel"),
		Metadata:   map[string]string{"user_id": userID, "purpose": "wallet_topup"},
	}
	sess, err := checkoutsession.New(sessParams)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create topup checkout session")
		return "", fmt.Errorf("create topup session: %w", err)
	}
	return sess.URL, nil
}

// CreateSubscriptionSession creates a subscription Checkout session for a tier.
func (s *StripeService) CreateSubscriptionSession(ctx context.Context, userID, priceID string) (string, error) {
	if s.tierForPrice(priceID) == model.TierFree {
		return "", fmt.Errorf("invalid price: %s", priceID)
	}
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("user not found: %s", userID)
	}
	customerID, err := s.GetOrCreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	sessParams := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:         stripe.String(s.cfg.StripeReturnURL + "?status=success"),
		CancelURL:          stripe.String(s.cfg.StripeReturnURL + "?status=cancel"),
		Metadata:           map[string]string{"user_id": userID},
	}
	sess, err := checkoutsession.New(sessParams)
	if err != nil {
		s.logger.Error().Err(err).Str("price_id", priceID).Msg("Failed to create subscription checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// HandleWebhook processes Stripe webhook events
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			s.logger.Error().Err(err).Msg("Invalid checkout.session data")
			http.Error(w, "invalid checkout.session data", http.StatusBadRequest)
			return
		}
		if cs.Mode == stripe.CheckoutSessionModePayment {
			s.handleTopupCompleted(ctx, w, &cs)
			return
		}
		s.handleSubscriptionCheckout(ctx, w, &cs)
		return
	case "customer.subscription.updated":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			s.logger.Error().Err(err).Msg("Invalid customer.subscription.updated payload")
			http.Error(w, "invalid subscription data", http.StatusBadRequest)
			return
		}
		s.handleSubscriptionChanged(ctx, w, &ss)
		return
	case "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			s.logger.Error().Err(err).Msg("Invalid customer.subscription.deleted payload")
			http.Error(w, "invalid subscription data", http.StatusBadRequest)
			return
		}
		s.handleSubscriptionDeleted(ctx, w, &ss)
		return
	default:
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("Ignoring unhandled Stripe event")
	}
	w.WriteHeader(http.StatusOK)
}

// handleTopupCompleted credits the wallet once per checkout session. The
// session id is the ledger external ref, so Stripe's at-least-once delivery
// collapses to exactly one credit.
func (s *StripeService) handleTopupCompleted(ctx context.Context, w http.ResponseWriter, cs *stripe.CheckoutSession) {
	userID, err := s.getUserIDFromEvent(ctx, cs.Metadata, customerID(cs.Customer))
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", cs.ID).Msg("Failed to determine user ID from topup session")
		http.Error(w, "failed to identify user", http.StatusInternalServerError)
		return
	}
	ref := cs.ID
	if _, err := s.walletSvc.Credit(ctx, userID, cs.AmountTotal, model.ReasonTopup, &ref, "wallet topup via checkout", nil); err != nil {
		s.logger.Error().Err(err).Str("session_id", cs.ID).Msg("Failed to credit wallet for topup")
		http.Error(w, "failed to credit wallet", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) handleSubscriptionCheckout(ctx context.Context, w http.ResponseWriter, cs *stripe.CheckoutSession) {
	if cs.Subscription == nil || cs.Subscription.ID == "" {
		s.logger.Error().Str("session_id", cs.ID).Msg("Checkout session has no subscription")
		http.Error(w, "missing subscription", http.StatusBadRequest)
		return
	}
	subID := cs.Subscription.ID
	// Fetch full subscription object to get timing and price details
	subObj, err := subscriptionpkg.Get(subID, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", subID).Msg("Failed to fetch subscription details")
		http.Error(w, "failed to fetch subscription details", http.StatusInternalServerError)
		return
	}
	userID := cs.Metadata["user_id"]
	if userID == "" {
		s.logger.Error().Str("subscription_id", subID).Msg("Missing user_id in checkout session metadata")
		http.Error(w, "missing user_id in metadata", http.StatusBadRequest)
		return
	}
	if err := s.upsertPlanFromSubscription(ctx, userID, subObj); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save plan on checkout.session.completed")
		http.Error(w, "failed to save plan", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) handleSubscriptionDeleted(ctx context.Context, w http.ResponseWriter, ss *stripe.Subscription) {
	userID, err := s.getUserIDFromEvent(ctx, ss.Metadata, customerID(ss.Customer))
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", ss.ID).Msg("Failed to determine user ID from deleted subscription")
		http.Error(w, "failed to identify user", http.StatusInternalServerError)
		return
	}
	if err := s.planSvc.ExpireStripePlan(ctx, userID, ss.ID); err != nil {
		http.Error(w, "failed to expire plan", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) handleSubscriptionChanged(ctx context.Context, w http.ResponseWriter, ss *stripe.Subscription) {
	userID, err := s.getUserIDFromEvent(ctx, ss.Metadata, customerID(ss.Customer))
	if err != nil {
		s.logger.Error().Err(err).Str("subscription_id", ss.ID).Msg("Failed to determine user ID from subscription")
		http.Error(w, "failed to identify user", http.StatusInternalServerError)
		return
	}
	if err := s.upsertPlanFromSubscription(ctx, userID, ss); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", ss.ID).Msg("Failed to update plan on subscription change")
		http.Error(w, "failed to update plan", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) upsertPlanFromSubscription(ctx context.Context, userID string, sub *stripe.Subscription) error {
	if len(sub.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", sub.ID)
	}
	item := sub.Items.Data[0]
	if item.Price == nil || item.Price.ID == "" {
		return fmt.Errorf("subscription %s has no price", sub.ID)
	}
	tier := s.tierForPrice(item.Price.ID)
	start := time.Unix(item.CurrentPeriodStart, 0)
	end := time.Unix(item.CurrentPeriodEnd, 0)
	status := planStatusFromStripe(sub.Status, sub.CancelAtPeriodEnd)

	if err := s.planSvc.UpsertStripePlan(ctx, userID, tier, start, end, status, sub.ID); err != nil {
		return err
	}

	// High tiers get their dedicated database queued as soon as the plan
	// lands; ensure is idempotent so repeated webhooks are harmless.
	if status == model.PlanStatusActive {
		if _, err := s.provisioningSvc.EnsureProvisionForTier(ctx, userID, tier); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Str("tier", string(tier)).Msg("Failed to ensure provision after plan change")
		}
	}
	return nil
}

// customerID tolerates payloads that carry no customer object at all.
func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
