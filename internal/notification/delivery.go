package notification

import "context"

// Channels a message can be delivered through.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// DeliveryInfo identifies the rule and event behind a send call. The
// dispatcher attaches it to the context handed to NotificationSender so that
// queueing and journaling layers can record where a message came from.
type DeliveryInfo struct {
	PassID   string
	RuleID   uint
	RuleName string
	EventID  string
	KindID   int
}

type deliveryKey struct{}

func ContextWithDelivery(ctx context.Context, info DeliveryInfo) context.Context {
	return context.WithValue(ctx, deliveryKey{}, info)
}

func DeliveryFromContext(ctx context.Context) (DeliveryInfo, bool) {
	info, ok := ctx.Value(deliveryKey{}).(DeliveryInfo)
	return info, ok
}
