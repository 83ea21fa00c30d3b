package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auditwatch/internal/catalog"
	"auditwatch/internal/events"
	"auditwatch/internal/metrics"
	"auditwatch/internal/state"
)

// Report summarizes one dispatch pass.
type Report struct {
	PassID     string `json:"pass_id"`
	Rules      int    `json:"rules"`
	Evaluated  int    `json:"evaluated"`
	Fired      int    `json:"fired"`
	Skipped    int    `json:"skipped"`
	Malformed  int    `json:"malformed"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
	FiredRules []uint `json:"fired_rules,omitempty"`
	Err        error  `json:"-"`
}

// Dispatcher runs the notification rules against each audit event and hands
// the rules that fire to the sender.
type Dispatcher struct {
	rules    RuleStore
	sender   NotificationSender
	source   func() catalog.Source
	layouts  Layouts
	eval     *Evaluator
	renderer MessageRenderer
	severity SeverityResolver
	logins   state.LoginHistory
	watcher  *ThresholdWatcher
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type Option func(*Dispatcher)

// WithCatalogSource sets the function the catalog is rebuilt from on every pass.
func WithCatalogSource(fn func() catalog.Source) Option {
	return func(d *Dispatcher) {
		d.source = fn
	}
}

func WithLayouts(l Layouts) Option {
	return func(d *Dispatcher) {
		d.layouts = l
	}
}

func WithMatcher(m *Matcher) Option {
	return func(d *Dispatcher) {
		d.eval = NewEvaluator(m)
	}
}

func WithRenderer(r MessageRenderer) Option {
	return func(d *Dispatcher) {
		d.renderer = r
	}
}

func WithSeverity(s SeverityResolver) Option {
	return func(d *Dispatcher) {
		d.severity = s
	}
}

// WithState wires the login history and the failed-login counters.
func WithState(s *state.EngineState) Option {
	return func(d *Dispatcher) {
		if s == nil {
			return
		}
		d.logins = s.Logins
		if s.Failures != nil {
			d.watcher = NewThresholdWatcher(s.Failures)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func NewDispatcher(rules RuleStore, sender NotificationSender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules:   rules,
		sender:  sender,
		source:  catalog.DefaultSource,
		layouts: DefaultLayouts(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.eval == nil {
		d.eval = NewEvaluator(NewMatcher(d.layouts))
	}
	if d.severity == nil {
		d.severity = events.NewRegistry()
	}
	if d.renderer == nil {
		var describer EventDescriber
		if reg, ok := d.severity.(EventDescriber); ok {
			describer = reg
		}
		d.renderer = NewTemplateRenderer("", describer, d.eval.Matcher())
	}
	if d.logins == nil {
		d.logins = state.NewMemoryLoginHistory()
	}
	return d
}

// pass holds what one dispatch pass memoizes across its rules.
type pass struct {
	id      string
	log     *zap.Logger
	checked bool
	first   bool
	err     error
}

// Dispatch runs one pass for e. It never returns an error: failures are
// logged and summarized in the report. A rule store failure aborts the pass.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) (report Report) {
	start := time.Now()
	report.PassID = uuid.NewString()
	if e == nil {
		return report
	}

	p := &pass{
		id:  report.PassID,
		log: d.logger.With(zap.String("pass_id", report.PassID), zap.Int("event_id", e.KindID)),
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Dispatch pass panicked", zap.Any("panic", r))
			report.Err = fmt.Errorf("dispatch panic: %v", r)
		}
		d.metrics.ObserveDispatch(time.Since(start))
	}()

	// 每个 pass 只查一次用户目录
	e = d.eval.Matcher().BindActor(ctx, e)

	// Counters are bumped before the rules load so a store outage does not lose failures.
	var obs FailureObservation
	var observed bool
	if d.watcher != nil && events.IsFailedLogin(e.KindID) {
		var err error
		obs, observed, err = d.watcher.Observe(ctx, e)
		if err != nil {
			p.log.Error("Failed to update failed-login counter", zap.Error(err))
		}
	}

	defs, err := d.rules.ListEnabledRules(ctx)
	if err != nil {
		report.Err = fmt.Errorf("%w: %v", ErrRuleStoreUnavailable, err)
		d.metrics.IncRuleStoreError()
		p.log.Error("Failed to load notification rules", zap.Error(report.Err))
		return report
	}
	report.Rules = len(defs)

	compiler := NewCompiler(catalog.New(d.source()), d.layouts)
	var thresholdRules []Rule

	for _, def := range defs {
		if !def.Enabled {
			report.Skipped++
			d.metrics.IncRuleOutcome("skipped")
			continue
		}

		rule, err := compiler.Compile(def)
		if err != nil {
			report.Malformed++
			d.metrics.IncRuleOutcome("malformed")
			p.log.Warn("Skipping malformed notification rule",
				zap.Uint("rule_id", def.ID),
				zap.String("rule", def.Name),
				zap.Error(err),
			)
			continue
		}
		for _, uerr := range rule.Unresolved() {
			p.log.Warn("Notification rule has an unresolvable condition",
				zap.Uint("rule_id", rule.ID),
				zap.Error(uerr),
			)
		}

		if observed && obs.Due(rule) {
			thresholdRules = append(thresholdRules, rule)
		}

		if reason, skip := d.skip(ctx, p, rule, e); skip {
			report.Skipped++
			d.metrics.IncRuleOutcome("skipped")
			p.log.Debug("Notification rule skipped",
				zap.Uint("rule_id", rule.ID),
				zap.String("reason", reason),
			)
			continue
		}

		report.Evaluated++
		if !d.fires(rule, e) {
			d.metrics.IncRuleOutcome("no_match")
			continue
		}

		d.fire(ctx, p, rule, e, &report)
	}

	for _, rule := range thresholdRules {
		p.log.Info("Failed-login threshold reached",
			zap.Uint("rule_id", rule.ID),
			zap.String("counter", string(obs.Kind)),
			zap.String("key", obs.Key),
			zap.Int64("count", obs.Count),
		)
		d.fire(ctx, p, rule, e, &report)
	}

	return report
}

// fires evaluates the trigger sequence, OR'd with the critical override.
func (d *Dispatcher) fires(rule Rule, e *Event) bool {
	if d.eval.EvaluateRule(rule, e) {
		return true
	}
	return rule.CriticalOnly && d.severity.GetSeverity(e.KindID) == events.SeverityCritical
}

// skip applies the pre-filters that bypass evaluation entirely.
func (d *Dispatcher) skip(ctx context.Context, p *pass, rule Rule, e *Event) (string, bool) {
	if rule.FailThresholdKnown && e.KindID == events.KindFailedLoginKnown {
		return "fail_threshold_known", true
	}
	if rule.FailThresholdUnknown && e.KindID == events.KindFailedLoginUnknown {
		return "fail_threshold_unknown", true
	}

	if rule.FirstTimeLoginOnly && e.KindID == events.KindLogin {
		first, err := d.firstLogin(ctx, p, e)
		if err != nil {
			// Without login history every login would look like a first one.
			return "login_history_unavailable", true
		}
		if !first {
			return "repeat_login", true
		}
	}
	return "", false
}

// firstLogin records the acting user once per pass so several first-login
// rules in the same pass agree on the answer.
func (d *Dispatcher) firstLogin(ctx context.Context, p *pass, e *Event) (bool, error) {
	if p.checked {
		return p.first, p.err
	}
	p.checked = true

	username, ok := d.eval.Matcher().ResolveUsername(e)
	if !ok {
		p.first = true
		return p.first, nil
	}

	p.first, p.err = d.logins.RecordFirstLogin(ctx, username)
	if p.err != nil {
		p.log.Error("Failed to update login history", zap.String("username", username), zap.Error(p.err))
	}
	return p.first, p.err
}

// fire renders the message and sends it to every endpoint of the rule.
// Each endpoint is attempted regardless of the others. A panic is contained
// to the rule so later rules in the pass still run.
func (d *Dispatcher) fire(ctx context.Context, p *pass, rule Rule, e *Event, report *Report) {
	report.Fired++
	report.FiredRules = append(report.FiredRules, rule.ID)
	d.metrics.IncRuleOutcome("fired")

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Notification rule panicked", zap.Uint("rule_id", rule.ID), zap.Any("panic", r))
		}
	}()

	msg, err := d.render(rule, e)
	if err != nil {
		for _, addr := range rule.Emails {
			d.record(p, rule, ChannelEmail, addr, err, report)
		}
		for _, phone := range rule.Phones {
			d.record(p, rule, ChannelSMS, phone, err, report)
		}
		return
	}

	ctx = ContextWithDelivery(ctx, DeliveryInfo{
		PassID:   p.id,
		RuleID:   rule.ID,
		RuleName: rule.Name,
		EventID:  e.ID,
		KindID:   e.KindID,
	})

	for _, addr := range rule.Emails {
		err := safeSend(func() error { return d.sender.SendEmail(ctx, addr, msg.Subject, msg.Body) })
		d.record(p, rule, ChannelEmail, addr, err, report)
	}
	for _, phone := range rule.Phones {
		err := safeSend(func() error { return d.sender.SendSMS(ctx, phone, msg.SMS) })
		d.record(p, rule, ChannelSMS, phone, err, report)
	}
}

func (d *Dispatcher) render(rule Rule, e *Event) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: render panic: %v", ErrDeliveryFailure, r)
		}
	}()
	return d.renderer.Render(rule, e), nil
}

// safeSend turns a panicking sender into a delivery failure for that endpoint.
func safeSend(send func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sender panic: %v", ErrDeliveryFailure, r)
		}
	}()
	return send()
}

func (d *Dispatcher) record(p *pass, rule Rule, channel, endpoint string, err error, report *Report) {
	if err == nil {
		report.Delivered++
		return
	}
	report.Failed++
	if !errors.Is(err, ErrDeliveryFailure) {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	p.log.Error("Failed to deliver notification",
		zap.Uint("rule_id", rule.ID),
		zap.String("channel", channel),
		zap.String("endpoint", endpoint),
		zap.Error(err),
	)
}

// DryRunResult is the verdict of a rule against an event without side effects.
type DryRunResult struct {
	Matched          bool     `json:"matched"`
	CriticalOverride bool     `json:"critical_override"`
	FastPath         bool     `json:"fast_path"`
	Unresolved       []string `json:"unresolved,omitempty"`
	Message          Message  `json:"message"`
}

// DryRun compiles def and evaluates it against e. Skip predicates are not
// applied and nothing is recorded or sent.
func (d *Dispatcher) DryRun(ctx context.Context, def RuleDefinition, e *Event) (DryRunResult, error) {
	var res DryRunResult
	if e == nil {
		return res, errors.New("event is required")
	}
	e = d.eval.Matcher().BindActor(ctx, e)

	rule, err := NewCompiler(catalog.New(d.source()), d.layouts).Compile(def)
	if err != nil {
		return res, err
	}
	for _, uerr := range rule.Unresolved() {
		res.Unresolved = append(res.Unresolved, uerr.Error())
	}

	res.FastPath = len(rule.Triggers) == 1 && !rule.Triggers[0].IsGroup()
	res.Matched = d.eval.EvaluateRule(rule, e)
	if !res.Matched && rule.CriticalOnly && d.severity.GetSeverity(e.KindID) == events.SeverityCritical {
		res.Matched, res.CriticalOverride = true, true
	}
	if res.Matched {
		res.Message = d.renderer.Render(rule, e)
	}
	return res, nil
}
