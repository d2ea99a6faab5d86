package services

import (
	"entitlement-api/internal/models"
)

// appleEventKey keys the App Store notification mapping. Subtype narrows a
// type where the same notification means different things; an empty subtype
// is the type-level default.
type appleEventKey struct {
	Type    string
	Subtype string
}

// appleEventTable maps App Store Server Notification V2 types to lifecycle
// events. The table is data, not control flow: the dispatcher looks up,
// and an absent entry means "log and ignore", never a state change.
var appleEventTable = map[appleEventKey]EventType{
	{Type: "SUBSCRIBED"}:                                 EventPurchased,
	{Type: "SUBSCRIBED", Subtype: "RESUBSCRIBE"}:         EventRecovered,
	{Type: "DID_RENEW"}:                                  EventRenewed,
	{Type: "DID_RENEW", Subtype: "BILLING_RECOVERY"}:     EventRecovered,
	{Type: "RENEWAL_EXTENDED"}:                           EventRenewed,
	{Type: "OFFER_REDEEMED"}:                             EventRenewed,
	{Type: "DID_FAIL_TO_RENEW"}:                          EventPaymentFailed,
	{Type: "DID_FAIL_TO_RENEW", Subtype: "GRACE_PERIOD"}: EventPaymentFailed,
	{Type: "DID_CHANGE_RENEWAL_STATUS", Subtype: "AUTO_RENEW_DISABLED"}: EventCanceled,
	{Type: "DID_CHANGE_RENEWAL_STATUS", Subtype: "AUTO_RENEW_ENABLED"}:  EventRecovered,
	{Type: "EXPIRED"}:              EventExpired,
	{Type: "GRACE_PERIOD_EXPIRED"}: EventExpired,
	{Type: "REFUND"}:               EventRevoked,
	{Type: "REVOKE"}:               EventRevoked,
}

// AppleEventFor resolves a notification type/subtype pair to a lifecycle
// event. The subtype-specific entry wins over the type-level default.
func AppleEventFor(notificationType, subtype string) (EventType, bool) {
	if event, ok := appleEventTable[appleEventKey{Type: notificationType, Subtype: subtype}]; ok {
		return event, true
	}
	event, ok := appleEventTable[appleEventKey{Type: notificationType}]
	return event, ok
}

// googleEventTable maps Google Play RTDN subscription notification types to
// lifecycle events. IN_GRACE_PERIOD is a billing failure the store is still
// retrying, so it lands on the payment-failed path like ON_HOLD. Types with
// no lifecycle meaning (price change confirmed, pause schedule changed) are
// deliberately absent.
var googleEventTable = map[int]EventType{
	models.GoogleNotifRecovered:     EventRecovered,
	models.GoogleNotifRenewed:       EventRenewed,
	models.GoogleNotifCanceled:      EventCanceled,
	models.GoogleNotifPurchased:     EventPurchased,
	models.GoogleNotifOnHold:        EventPaymentFailed,
	models.GoogleNotifInGracePeriod: EventPaymentFailed,
	models.GoogleNotifRestarted:     EventRecovered,
	models.GoogleNotifDeferred:      EventRenewed,
	models.GoogleNotifPaused:        EventPaused,
	models.GoogleNotifRevoked:       EventRevoked,
	models.GoogleNotifExpired:       EventExpired,
}

// GoogleEventFor resolves an RTDN notification type to a lifecycle event.
func GoogleEventFor(notificationType int) (EventType, bool) {
	event, ok := googleEventTable[notificationType]
	return event, ok
}
