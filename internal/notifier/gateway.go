package notifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"auditwatch/internal/logger"
	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
)

var errChannelDisabled = errors.New("channel not configured")

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Texter sends one text message.
type Texter interface {
	Send(ctx context.Context, phone, body string) error
}

// Gateway routes messages to the channel transports, counts every attempt and
// writes it to the delivery journal.
type Gateway struct {
	email   Mailer
	sms     Texter
	journal *logger.Journal
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

var _ notification.NotificationSender = (*Gateway)(nil)

// NewGateway builds a gateway. A nil transport disables its channel; a nil
// journal disables journaling.
func NewGateway(email Mailer, sms Texter, journal *logger.Journal, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		email:   email,
		sms:     sms,
		journal: journal,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

func (g *Gateway) SendEmail(ctx context.Context, address, subject, body string) error {
	return g.deliver(ctx, notification.ChannelEmail, address, func() error {
		if g.email == nil {
			return errChannelDisabled
		}
		return g.email.Send(ctx, address, subject, body)
	})
}

func (g *Gateway) SendSMS(ctx context.Context, phone, body string) error {
	return g.deliver(ctx, notification.ChannelSMS, phone, func() error {
		if g.sms == nil {
			return errChannelDisabled
		}
		return g.sms.Send(ctx, phone, body)
	})
}

func (g *Gateway) deliver(ctx context.Context, channel, endpoint string, send func() error) error {
	start := g.now()
	err := send()
	elapsed := g.now().Sub(start)

	g.metrics.IncDelivery(channel, err == nil)

	if g.journal != nil {
		entry := &logger.DeliveryEntry{
			Timestamp: start,
			Channel:   channel,
			Endpoint:  endpoint,
			Success:   err == nil,
			Duration:  elapsed.Milliseconds(),
		}
		if info, ok := notification.DeliveryFromContext(ctx); ok {
			entry.PassID = info.PassID
			entry.RuleID = info.RuleID
			entry.RuleName = info.RuleName
			entry.EventID = info.EventID
			entry.KindID = info.KindID
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if jerr := g.journal.Record(entry); jerr != nil {
			g.logger.Warn("Failed to write delivery journal", zap.Error(jerr))
		}
	}
	return err
}
