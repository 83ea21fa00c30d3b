package notifier

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"auditwatch/internal/logger"
	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
)

// fakeSMTP accepts a single session and captures the DATA payload.
func fakeSMTP(t *testing.T, extensions ...string) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				for _, ext := range extensions {
					write("250-" + ext)
				}
				write("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				write("354 End data with <CR><LF>.<CR><LF>")
				var sb strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					sb.WriteString(l)
				}
				data <- sb.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("502 not implemented")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p, data
}

func TestEmailSenderPlain(t *testing.T) {
	host, port, data := fakeSMTP(t)
	s := NewEmailSender(SMTPConfig{
		Host:     host,
		Port:     port,
		From:     "auditwatch@example.com",
		Security: SecurityNone,
		Timeout:  2 * time.Second,
	})

	require.NoError(t, s.Send(context.Background(), "admin@example.com", "Login alert", "line one\nline two"))

	select {
	case msg := <-data:
		assert.Contains(t, msg, "To: admin@example.com\r\n")
		assert.Contains(t, msg, "Subject: Login alert\r\n")
		assert.Contains(t, msg, "line one\r\nline two")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailSenderRequiresStartTLS(t *testing.T) {
	host, port, _ := fakeSMTP(t)
	s := NewEmailSender(SMTPConfig{Host: host, Port: port, From: "a@example.com", Timeout: time.Second})

	err := s.Send(context.Background(), "b@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS not supported")
}

func TestBuildMessageEncodesSubject(t *testing.T) {
	s := NewEmailSender(SMTPConfig{From: "auditwatch@example.com"})
	s.now = func() time.Time { return time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC) }

	msg := string(s.buildMessage("ops@example.com", "登录告警", "hello\r\nworld"))

	assert.True(t, strings.HasPrefix(msg, "From: auditwatch@example.com\r\nTo: ops@example.com\r\n"))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.Contains(t, msg, "Date: Sat, 15 Jun 2024 14:30:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nhello\r\nworld"))
}

func TestSMSSender(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"To":   r.PostForm.Get("To"),
			"From": r.PostForm.Get("From"),
			"Body": r.PostForm.Get("Body"),
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSConfig{BaseURL: srv.URL + "/", AccountSID: "AC123", AuthToken: "secret", From: "+15550000"})
	require.NoError(t, s.Send(context.Background(), "+15550100", "admin logged in"))

	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "AC123", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, map[string]string{"To": "+15550100", "From": "+15550000", "Body": "admin logged in"}, gotForm)
}

func TestSMSSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSMSSender(SMSConfig{BaseURL: srv.URL, AccountSID: "AC123"})
	err := s.Send(context.Background(), "bogus", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid number")
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingTexter struct {
	err error
}

func (t *recordingTexter) Send(context.Context, string, string) error { return t.err }

func TestGatewayJournalsAndCounts(t *testing.T) {
	journal, err := logger.NewJournal(t.TempDir())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	g := NewGateway(&recordingMailer{}, &recordingTexter{err: errors.New("gateway timeout")}, journal, m, zaptest.NewLogger(t))

	ctx := notification.ContextWithDelivery(context.Background(), notification.DeliveryInfo{
		PassID: "pass-1", RuleID: 7, RuleName: "admin logins", EventID: "evt-1", KindID: 1000,
	})
	require.NoError(t, g.SendEmail(ctx, "ops@example.com", "s", "b"))
	require.Error(t, g.SendSMS(ctx, "+15550100", "b"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("email", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("sms", "error")))

	res, err := journal.Query(&logger.JournalQuery{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	for _, e := range res.Entries {
		assert.Equal(t, "pass-1", e.PassID)
		assert.Equal(t, uint(7), e.RuleID)
		assert.Equal(t, "evt-1", e.EventID)
		if e.Channel == notification.ChannelSMS {
			assert.False(t, e.Success)
			assert.Equal(t, "gateway timeout", e.Error)
		} else {
			assert.True(t, e.Success)
		}
	}
}

func TestGatewayDisabledChannel(t *testing.T) {
	g := NewGateway(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, g.SendEmail(context.Background(), "a@example.com", "s", "b"), errChannelDisabled)
	assert.ErrorIs(t, g.SendSMS(context.Background(), "+1", "b"), errChannelDisabled)
}

type blockingSender struct {
	release chan struct{}
	mu      sync.Mutex
	emails  []string
	sms     []string
}

func (b *blockingSender) SendEmail(_ context.Context, address, _, _ string) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emails = append(b.emails, address)
	return nil
}

func (b *blockingSender) SendSMS(_ context.Context, phone, _ string) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sms = append(b.sms, phone)
	return nil
}

func TestQueueDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := metrics.New(prometheus.NewRegistry())
	next := &blockingSender{release: make(chan struct{})}

	// no workers started yet, so the buffer fills deterministically
	q := NewQueue(next, 1, 2, m, zap.New(core))

	require.NoError(t, q.SendEmail(context.Background(), "a@example.com", "s", "b"))
	require.NoError(t, q.SendSMS(context.Background(), "+1", "b"))
	err := q.SendEmail(context.Background(), "c@example.com", "s", "b")
	assert.ErrorIs(t, err, notification.ErrDeliveryFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDropped))
	assert.Equal(t, 1, logs.FilterMessage("Delivery queue full, dropping notification").Len())

	q.Start()
	close(next.release)
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, []string{"a@example.com"}, next.emails)
	assert.Equal(t, []string{"+1"}, next.sms)
	assert.ErrorIs(t, q.SendEmail(context.Background(), "d@example.com", "s", "b"), ErrQueueClosed)
}

func TestQueueDetachesCallerContext(t *testing.T) {
	mailer := &recordingMailer{}
	q := NewQueue(NewGateway(mailer, nil, nil, nil, nil), 2, 10, nil, zaptest.NewLogger(t))
	q.Start()

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, q.SendEmail(ctx, "ops@example.com", "s", "b"))
	}
	cancel()

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, 5, mailer.count())
}

func TestQueueSynchronousMode(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("relay refused")}
	q := NewQueue(NewGateway(mailer, nil, nil, nil, nil), 0, 0, nil, nil)

	err := q.SendEmail(context.Background(), "ops@example.com", "s", "b")
	assert.EqualError(t, err, "relay refused")
	assert.Equal(t, 1, mailer.count())
}
