package services

import (
	"strings"
	"sync"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// EventType names a subscription lifecycle event. Webhook notification
// types from both stores and receipt validation outcomes all decode into
// this one set.
type EventType string

const (
	EventReceiptValidated EventType = "receipt_validated"
	EventPurchased        EventType = "subscription_purchased"
	EventRenewed          EventType = "subscription_renewed"
	EventRecovered        EventType = "subscription_recovered"
	EventCanceled         EventType = "subscription_canceled"
	EventPaymentFailed    EventType = "subscription_on_hold"
	EventPaused           EventType = "subscription_paused"
	EventRevoked          EventType = "subscription_revoked"
	EventExpired          EventType = "subscription_expired"
)

// Event is one lifecycle input. OccurredAt is the store-reported event
// time, never the local arrival time; it drives the last-writer-wins
// watermark. Result is set when the event carries fresh purchase state.
type Event struct {
	Type       EventType
	OccurredAt time.Time
	Result     *models.ValidationResult
}

// TransitionHook observes applied transitions. Hooks run after the row is
// persisted and must not block.
type TransitionHook func(subscription *models.Subscription, event Event)

// Lifecycle is the authoritative subscription state machine. All writes to
// Subscription.Status flow through ApplyEvent/ApplyValidation, serialized
// per original transaction by a keyed mutex plus the store's row lock.
type Lifecycle struct {
	store     SubscriptionStore
	graceDays int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	hooks []TransitionHook
}

// NewLifecycle creates the state machine on the given store.
func NewLifecycle(store SubscriptionStore, graceDays int) *Lifecycle {
	if graceDays <= 0 {
		graceDays = 7
	}
	return &Lifecycle{
		store:     store,
		graceDays: graceDays,
		locks:     make(map[string]*sync.Mutex),
	}
}

// OnTransition registers a hook invoked for every applied transition.
func (l *Lifecycle) OnTransition(hook TransitionHook) {
	l.hooks = append(l.hooks, hook)
}

// keyLock returns the mutex serializing one subscription's mutations.
// Unrelated subscriptions proceed in parallel.
func (l *Lifecycle) keyLock(platform, originalTransactionID string) *sync.Mutex {
	key := platform + ":" + originalTransactionID
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[key] = m
	return m
}

// ApplyValidation folds a validator result into persisted state. A first
// valid purchase creates the row; an invalid result with no existing row
// writes nothing. Returns the row (nil when none exists) and whether it
// changed.
func (l *Lifecycle) ApplyValidation(userID string, credential Credential, result *models.ValidationResult) (*models.Subscription, bool, error) {
	if result.OriginalTransactionID == "" {
		// Nothing to key the lifecycle on; an unparseable or unknown
		// credential never creates state.
		return nil, false, nil
	}

	event := Event{
		Type:       EventReceiptValidated,
		OccurredAt: result.EventTime(),
		Result:     result,
	}

	lock := l.keyLock(result.Platform, result.OriginalTransactionID)
	lock.Lock()
	defer lock.Unlock()

	var out *models.Subscription
	var changed bool

	err := l.store.WithRowLock(result.Platform, result.OriginalTransactionID, func(existing *models.Subscription) (*models.Subscription, error) {
		if existing == nil {
			if !result.IsValid {
				return nil, nil
			}
			created := l.newSubscription(userID, credential, result)
			out = created
			changed = true
			return created, nil
		}

		out = existing
		if l.transition(existing, event, time.Now()) {
			existing.ReceiptOrToken = pickCredential(credential, existing.ReceiptOrToken)
			changed = true
			return existing, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		l.notify(out, event)
	}
	return out, changed, nil
}

// ApplyEvent applies a webhook-derived event to the subscription identified
// by its store lifetime key. Events for unknown subscriptions are dropped
// unless they carry purchase state to create the row from.
func (l *Lifecycle) ApplyEvent(platform, originalTransactionID, userID string, event Event) (*models.Subscription, bool, error) {
	lock := l.keyLock(platform, originalTransactionID)
	lock.Lock()
	defer lock.Unlock()

	var out *models.Subscription
	var changed bool

	err := l.store.WithRowLock(platform, originalTransactionID, func(existing *models.Subscription) (*models.Subscription, error) {
		if existing == nil {
			if event.Result == nil || !event.Result.IsValid {
				logging.Infof("Dropping %s for unknown subscription %s/%s", event.Type, platform, originalTransactionID)
				return nil, nil
			}
			created := l.newSubscription(userID, Credential{}, event.Result)
			// The creating event may itself be a degrading one (e.g. a
			// revoke racing the first validation); run it through the
			// transition so the fresh row does not overstate access.
			l.transition(created, event, time.Now())
			out = created
			changed = true
			return created, nil
		}

		out = existing
		if l.transition(existing, event, time.Now()) {
			changed = true
			return existing, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		l.notify(out, event)
	}
	return out, changed, nil
}

// CurrentForUser returns the user's latest subscription with the passive
// time-based check applied: a canceled subscription past its grace window
// transitions to expired lazily at read time.
func (l *Lifecycle) CurrentForUser(userID string) (*models.Subscription, error) {
	subscription, err := l.store.FindLatestByUserID(userID)
	if err != nil || subscription == nil {
		return nil, err
	}
	return l.refresh(subscription)
}

// Refresh applies the passive expiry check to an already-loaded row.
func (l *Lifecycle) Refresh(subscription *models.Subscription) (*models.Subscription, error) {
	return l.refresh(subscription)
}

func (l *Lifecycle) refresh(subscription *models.Subscription) (*models.Subscription, error) {
	if !lazyExpire(subscription, time.Now()) {
		return subscription, nil
	}

	lock := l.keyLock(subscription.Platform, subscription.OriginalTransactionID)
	lock.Lock()
	defer lock.Unlock()

	err := l.store.WithRowLock(subscription.Platform, subscription.OriginalTransactionID, func(existing *models.Subscription) (*models.Subscription, error) {
		if existing == nil {
			return nil, nil
		}
		if lazyExpire(existing, time.Now()) {
			existing.Status = models.StatusExpired
			*subscription = *existing
			return existing, nil
		}
		*subscription = *existing
		return nil, nil
	})
	return subscription, err
}

// newSubscription builds the row for a first valid purchase. A valid but
// already-inactive receipt still creates the row (history feeds win-back
// eligibility) in the state the store reports, never in a better one.
func (l *Lifecycle) newSubscription(userID string, credential Credential, result *models.ValidationResult) *models.Subscription {
	var status string
	switch {
	case result.IsActive && result.IsTrialPeriod:
		status = models.StatusTrialing
	case result.IsActive:
		status = models.StatusActive
	case result.PaymentState == models.PaymentStatePending:
		status = models.StatusPastDue
	default:
		status = models.StatusExpired
	}

	subscription := &models.Subscription{
		UserID:                userID,
		Platform:              result.Platform,
		ProductID:             result.ProductID,
		Tier:                  TierForProduct(result.ProductID),
		TransactionID:         result.TransactionID,
		OriginalTransactionID: result.OriginalTransactionID,
		Status:                status,
		CurrentPeriodStart:    result.PurchasedAt,
		CurrentPeriodEnd:      result.ExpiresAt,
		AutoRenewing:          result.AutoRenewing,
		PaymentState:          result.PaymentState,
		AcknowledgmentState:   result.AcknowledgmentState,
		LastEventAt:           result.EventTime(),
		ReceiptOrToken:        pickCredential(credential, result.OriginalTransactionID),
		Environment:           result.Environment,
	}
	if result.Platform == models.PlatformAndroid {
		subscription.Acknowledged = result.AcknowledgmentState != 0
	}
	return subscription
}

// transition applies one event to the row in place and reports whether
// anything changed. Stale and duplicate events (watermark at or before the
// last applied event) are dropped. Expired is terminal for degrading
// events; a newer purchase-bearing event reactivates the row, because the
// stores reuse the same lifetime key when a lapsed payer subscribes again.
func (l *Lifecycle) transition(s *models.Subscription, event Event, now time.Time) bool {
	before := *s

	// Passive expiry first: a canceled row past its grace window is
	// already expired regardless of what the event says, and the flip
	// itself counts as a change to persist.
	lazyExpire(s, now)

	if s.Status == models.StatusExpired && !reactivates(s, event) {
		return !sameState(&before, s)
	}
	if event.OccurredAt.IsZero() || !event.OccurredAt.After(s.LastEventAt) {
		return !sameState(&before, s)
	}

	switch event.Type {
	case EventReceiptValidated:
		l.applyValidationResult(s, event.Result)
	case EventPurchased, EventRenewed, EventRecovered:
		s.Status = models.StatusActive
		s.CanceledAt = nil
		s.GracePeriodEnd = nil
		if event.Result != nil {
			l.applyResultFields(s, event.Result)
			if event.Result.IsTrialPeriod {
				s.Status = models.StatusTrialing
			}
		}
	case EventCanceled:
		s.Status = models.StatusCanceled
		canceledAt := event.OccurredAt
		s.CanceledAt = &canceledAt
		graceEnd := canceledAt.Add(time.Duration(l.graceDays) * 24 * time.Hour)
		// The grace window never moves backward once set.
		if s.GracePeriodEnd == nil || graceEnd.After(*s.GracePeriodEnd) {
			s.GracePeriodEnd = &graceEnd
		}
		s.AutoRenewing = false
	case EventPaymentFailed:
		s.Status = models.StatusPastDue
	case EventPaused:
		s.Status = models.StatusPaused
	case EventRevoked:
		// Refund or chargeback: no grace window, access ends now.
		s.Status = models.StatusExpired
		s.GracePeriodEnd = nil
		s.AutoRenewing = false
	case EventExpired:
		s.Status = models.StatusExpired
		s.AutoRenewing = false
	default:
		logging.Warnf("Unknown lifecycle event %q ignored", event.Type)
		return false
	}

	s.LastEventAt = event.OccurredAt

	return !sameState(&before, s)
}

// applyValidationResult handles the receipt_validated event family.
func (l *Lifecycle) applyValidationResult(s *models.Subscription, result *models.ValidationResult) {
	if result == nil {
		return
	}

	if result.IsValid && result.IsActive {
		s.Status = models.StatusActive
		if result.IsTrialPeriod {
			s.Status = models.StatusTrialing
		}
		s.CanceledAt = nil
		s.GracePeriodEnd = nil
		l.applyResultFields(s, result)
		return
	}

	if result.IsValid && result.PaymentState == models.PaymentStatePending {
		s.Status = models.StatusPastDue
		l.applyResultFields(s, result)
		return
	}

	// Invalid or inactive with no payment issue: the purchase is gone.
	s.Status = models.StatusExpired
	s.AutoRenewing = false
}

func (l *Lifecycle) applyResultFields(s *models.Subscription, result *models.ValidationResult) {
	s.ProductID = result.ProductID
	s.Tier = TierForProduct(result.ProductID)
	if result.TransactionID != "" {
		s.TransactionID = result.TransactionID
	}
	s.CurrentPeriodStart = result.PurchasedAt
	s.CurrentPeriodEnd = result.ExpiresAt
	s.AutoRenewing = result.AutoRenewing
	s.PaymentState = result.PaymentState
	if result.AcknowledgmentState != models.PaymentStateNone {
		s.AcknowledgmentState = result.AcknowledgmentState
		s.Acknowledged = result.AcknowledgmentState != 0
	}
	if result.Environment != "" {
		s.Environment = result.Environment
	}
}

// reactivates reports whether an event starts a fresh lifecycle on an
// expired row. Apple keeps the originalTransactionId across a
// re-subscription and a Google purchase token can resurface the same way,
// so a purchase-bearing event with a valid, currently-active result and a
// newer store timestamp resets the row instead of being dropped.
func reactivates(s *models.Subscription, event Event) bool {
	if !event.OccurredAt.After(s.LastEventAt) {
		return false
	}
	switch event.Type {
	case EventReceiptValidated, EventPurchased, EventRenewed, EventRecovered:
	default:
		return false
	}
	return event.Result != nil && event.Result.IsValid && event.Result.IsActive
}

// lazyExpire flips a canceled row past its grace window to expired. The
// window is inclusive at start, exclusive at end: at exactly GracePeriodEnd
// access is gone.
func lazyExpire(s *models.Subscription, now time.Time) bool {
	if s.Status == models.StatusCanceled && s.GracePeriodEnd != nil && !now.Before(*s.GracePeriodEnd) {
		s.Status = models.StatusExpired
		return true
	}
	return false
}

// sameState compares the fields a transition may touch.
func sameState(a, b *models.Subscription) bool {
	return a.Status == b.Status &&
		a.AutoRenewing == b.AutoRenewing &&
		a.PaymentState == b.PaymentState &&
		a.Acknowledged == b.Acknowledged &&
		equalTimePtr(a.CanceledAt, b.CanceledAt) &&
		equalTimePtr(a.GracePeriodEnd, b.GracePeriodEnd) &&
		equalTimePtr(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		a.LastEventAt.Equal(b.LastEventAt)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func pickCredential(credential Credential, fallback string) string {
	if credential.Receipt != "" {
		return credential.Receipt
	}
	if credential.PurchaseToken != "" {
		return credential.PurchaseToken
	}
	return fallback
}

func (l *Lifecycle) notify(subscription *models.Subscription, event Event) {
	if subscription == nil {
		return
	}
	for _, hook := range l.hooks {
		hook(subscription, event)
	}
}

// TierForProduct maps a store product id to a subscription tier. Product
// ids carry the tier name by convention.
func TierForProduct(productID string) string {
	switch {
	case productID == "":
		return models.TierFree
	case strings.Contains(strings.ToLower(productID), "creator"):
		return models.TierCreator
	default:
		return models.TierConsumer
	}
}
