package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/notifications"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/platform/observability"
)

const (
	defaultPaymentTimeout  = 30 * time.Second
	defaultDispatchTimeout = 10 * time.Second
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)

// CartSource is the cart a submission reads from and clears once the order exists.
type CartSource interface {
	Snapshot() domain.Cart
	Clear()
}

type staticCart domain.Cart

func (c staticCart) Snapshot() domain.Cart { return domain.Cart(c) }
func (staticCart) Clear()                  {}

// CheckoutState is a point-in-time view of a checkout session.
type CheckoutState struct {
	CheckoutID    string
	Stage         domain.CheckoutStage
	Customer      domain.CustomerInfo
	PaymentMethod domain.PaymentMethod
	Processing    bool
	Attempts      int
	OrderID       string
	OrderNumber   string
}

// CheckoutResult is returned by a successful submission.
type CheckoutResult struct {
	Order domain.Order
	// Replayed is true when the checkout had already completed and no new order was created.
	Replayed bool
	// DispatchError is set when the order stands but the confirmation could not be sent.
	DispatchError *DispatchError
}

// CheckoutSessionDeps wires the collaborators of one checkout session.
type CheckoutSessionDeps struct {
	SessionID       string
	Payments        payments.Processor
	Issuer          OrderIssuer
	Dispatcher      ConfirmationDispatcher
	PublicBaseURL   string
	Currency        string
	PaymentTimeout  time.Duration
	DispatchTimeout time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          Logger
	Metrics         Instrumentation
}

type retainedApproval struct {
	method domain.PaymentMethod
	total  decimal.Decimal
	auth   payments.Authorization
}

// CheckoutSession is the checkout state machine of one shopper. It allows at most one
// submission in flight and produces at most one order between resets.
type CheckoutSession struct {
	sessionID       string
	processor       payments.Processor
	issuer          OrderIssuer
	dispatcher      ConfirmationDispatcher
	publicBaseURL   string
	currency        string
	paymentTimeout  time.Duration
	dispatchTimeout time.Duration
	now             func() time.Time
	newID           func() string
	logger          Logger
	metrics         Instrumentation

	mu         sync.Mutex
	checkoutID string
	stage      domain.CheckoutStage
	customer   domain.CustomerInfo
	method     domain.PaymentMethod
	token      string
	processing bool
	inflight   chan struct{}
	attempts   int
	order      *domain.Order
	retained   *retainedApproval
}

// NewCheckoutSession constructs a checkout in COLLECTING_CUSTOMER.
func NewCheckoutSession(deps CheckoutSessionDeps) (*CheckoutSession, error) {
	if deps.Payments == nil {
		return nil, errors.New("checkout session: payment processor is required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("checkout session: order issuer is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	paymentTimeout := deps.PaymentTimeout
	if paymentTimeout <= 0 {
		paymentTimeout = defaultPaymentTimeout
	}
	dispatchTimeout := deps.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}

	s := &CheckoutSession{
		sessionID:       strings.TrimSpace(deps.SessionID),
		processor:       deps.Payments,
		issuer:          deps.Issuer,
		dispatcher:      deps.Dispatcher,
		publicBaseURL:   strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/"),
		currency:        currency,
		paymentTimeout:  paymentTimeout,
		dispatchTimeout: dispatchTimeout,
		now:             utcClock(deps.Clock),
		newID:           idGen,
		logger:          loggerOrNoop(deps.Logger),
		metrics:         instrumentationOrNoop(deps.Metrics),
	}
	s.resetLocked(context.Background())
	return s, nil
}

// State returns the current checkout state.
func (s *CheckoutSession) State() CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Processing reports whether a submission is in flight.
func (s *CheckoutSession) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// UpdateCustomer merges a partial customer form without changing stage.
func (s *CheckoutSession) UpdateCustomer(patch domain.CustomerPatch) (CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireStageLocked(domain.CheckoutStageCollectingCustomer); err != nil {
		return s.stateLocked(), err
	}
	s.customer = patch.Apply(s.customer)
	return s.stateLocked(), nil
}

// SubmitCustomer validates the customer and advances to COLLECTING_PAYMENT.
func (s *CheckoutSession) SubmitCustomer() (CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireStageLocked(domain.CheckoutStageCollectingCustomer); err != nil {
		return s.stateLocked(), err
	}
	if err := validateCustomer(s.customer); err != nil {
		return s.stateLocked(), err
	}
	s.stage = domain.CheckoutStageCollectingPayment
	return s.stateLocked(), nil
}

// SelectPaymentMethod records the method and moves to REVIEWING. It is also allowed
// while reviewing so a declined shopper can switch methods.
func (s *CheckoutSession) SelectPaymentMethod(raw, token string) (CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireStageLocked(domain.CheckoutStageCollectingPayment, domain.CheckoutStageReviewing); err != nil {
		return s.stateLocked(), err
	}
	method, ok := domain.ParsePaymentMethod(raw)
	if !ok {
		return s.stateLocked(), &ValidationError{Fields: []FieldError{{Field: "paymentMethod", Reason: "unsupported"}}}
	}
	if supporter, ok := s.processor.(interface {
		Supports(domain.PaymentMethod) bool
	}); ok && !supporter.Supports(method) {
		return s.stateLocked(), &ValidationError{Fields: []FieldError{{Field: "paymentMethod", Reason: "unavailable"}}}
	}
	if method != s.method {
		s.dropRetainedLocked(context.Background(), "payment method changed")
	}
	s.method = method
	s.token = strings.TrimSpace(token)
	s.stage = domain.CheckoutStageReviewing
	return s.stateLocked(), nil
}

// Review moves from COLLECTING_PAYMENT to REVIEWING once a method is set.
func (s *CheckoutSession) Review() (CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == domain.CheckoutStageReviewing && !s.processing {
		return s.stateLocked(), nil
	}
	if err := s.requireStageLocked(domain.CheckoutStageCollectingPayment); err != nil {
		return s.stateLocked(), err
	}
	if s.method == "" {
		return s.stateLocked(), &ValidationError{Fields: []FieldError{{Field: "paymentMethod", Reason: "required"}}}
	}
	s.stage = domain.CheckoutStageReviewing
	return s.stateLocked(), nil
}

// GoBack navigates to an earlier stage, keeping entered data.
func (s *CheckoutSession) GoBack(target domain.CheckoutStage) (CheckoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return s.stateLocked(), ErrConcurrentModification
	}
	if s.stage == domain.CheckoutStageDone {
		return s.stateLocked(), &PreconditionError{Stage: string(s.stage), Reason: "checkout already completed", Err: ErrInvalidTransition}
	}
	if !target.Valid() || !target.Before(s.stage) || target == domain.CheckoutStageSubmitting {
		return s.stateLocked(), &PreconditionError{Stage: string(s.stage), Reason: fmt.Sprintf("cannot go back to %q", target), Err: ErrInvalidTransition}
	}
	s.stage = target
	return s.stateLocked(), nil
}

// Cancel resets the checkout to COLLECTING_CUSTOMER with cleared data. An in-flight
// submission is never abandoned: Cancel waits for it, bounded by ctx. A completed
// checkout is replaced by a fresh one and its order is unaffected.
func (s *CheckoutSession) Cancel(ctx context.Context) (CheckoutState, error) {
	for {
		s.mu.Lock()
		if !s.processing {
			s.resetLocked(ctx)
			state := s.stateLocked()
			s.mu.Unlock()
			return state, nil
		}
		wait := s.inflight
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return s.State(), ctx.Err()
		}
	}
}

// Process submits the checkout against a fixed cart. See Submit.
func (s *CheckoutSession) Process(ctx context.Context, cart domain.Cart) (CheckoutResult, error) {
	return s.Submit(ctx, staticCart(cart))
}

// Submit authorizes payment for the cart total and, on approval, issues the order and
// clears the cart. A completed checkout returns its order again without side effects.
// Declines, processor failures and timeouts return a *PaymentError and leave the
// checkout in REVIEWING with all data intact.
func (s *CheckoutSession) Submit(ctx context.Context, cart CartSource) (CheckoutResult, error) {
	ctx, span := observability.StartSpan(ctx, "checkout.submit", attribute.String("session.id", s.sessionID))
	defer span.End()

	attempt, err := s.begin(ctx, cart)
	if err != nil {
		if errors.Is(err, errReplay) {
			s.metrics.ObserveCheckout("replayed")
			return CheckoutResult{Order: attempt.replay, Replayed: true}, nil
		}
		s.metrics.ObserveCheckout("rejected")
		return CheckoutResult{}, err
	}
	span.SetAttributes(
		attribute.String("checkout.id", attempt.checkoutID),
		attribute.Int("checkout.attempt", attempt.number),
		attribute.String("payment.method", string(attempt.method)),
	)

	// The shopper leaving must not strand an authorization, so the remaining work
	// ignores the caller's cancellation and relies on its own deadlines.
	work := context.WithoutCancel(ctx)

	auth, err := s.authorize(work, attempt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.abort(ctx, attempt, nil)
		return CheckoutResult{}, err
	}

	finalizeCtx, cancel := context.WithTimeout(work, s.paymentTimeout)
	order, err := s.issuer.Finalize(finalizeCtx, attempt.draft(), auth)
	cancel()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveCheckout("failed")
		s.logger(ctx, "checkout_finalize_failed", map[string]any{
			"checkoutId":       attempt.checkoutID,
			"paymentReference": auth.Reference,
			"error":            err.Error(),
		})
		s.abort(ctx, attempt, &retainedApproval{method: attempt.method, total: attempt.cart.Total, auth: auth})
		return CheckoutResult{}, err
	}

	s.complete(attempt, order, cart)
	s.metrics.ObserveCheckout("completed")
	s.logger(ctx, "checkout_completed", map[string]any{
		"checkoutId":  attempt.checkoutID,
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Total.StringFixed(2),
	})

	result := CheckoutResult{Order: order}
	if dispatchErr := s.dispatch(work, order); dispatchErr != nil {
		result.DispatchError = dispatchErr
	}
	return result, nil
}

// Mutate runs fn while submissions are excluded. A completed checkout is first replaced
// by a fresh one. When fn returns true the checkout is reset.
func (s *CheckoutSession) Mutate(fn func() (reset bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrConcurrentModification
	}
	if s.stage == domain.CheckoutStageDone {
		s.resetLocked(context.Background())
	}
	if fn() {
		s.resetLocked(context.Background())
	}
	return nil
}

var errReplay = errors.New("checkout: replay")

type submission struct {
	checkoutID string
	number     int
	method     domain.PaymentMethod
	token      string
	customer   domain.CustomerInfo
	sessionID  string
	cart       domain.Cart
	retained   *retainedApproval
	done       chan struct{}
	replay     domain.Order
}

func (a submission) idempotencyKey() string {
	return fmt.Sprintf("%s-%d", a.checkoutID, a.number)
}

func (a submission) draft() OrderDraft {
	return OrderDraft{
		SessionID:     a.sessionID,
		Customer:      a.customer,
		PaymentMethod: a.method,
		LineItems:     LineItemsFromCart(a.cart),
	}
}

func (s *CheckoutSession) begin(ctx context.Context, cart CartSource) (submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return submission{}, ErrConcurrentModification
	}
	if s.stage == domain.CheckoutStageDone && s.order != nil {
		return submission{replay: *s.order}, errReplay
	}
	if s.stage != domain.CheckoutStageReviewing {
		return submission{}, &PreconditionError{Stage: string(s.stage), Reason: "checkout must be reviewed before submission", Err: ErrInvalidTransition}
	}
	if err := validateCustomer(s.customer); err != nil {
		return submission{}, err
	}
	if s.method == "" {
		return submission{}, &ValidationError{Fields: []FieldError{{Field: "paymentMethod", Reason: "required"}}}
	}

	snapshot := cart.Snapshot()
	if snapshot.IsEmpty() {
		return submission{}, &PreconditionError{Stage: string(s.stage), Reason: "add an item before submitting", Err: ErrCartEmpty}
	}

	s.attempts++
	s.processing = true
	s.stage = domain.CheckoutStageSubmitting
	s.inflight = make(chan struct{})

	attempt := submission{
		checkoutID: s.checkoutID,
		number:     s.attempts,
		method:     s.method,
		token:      s.token,
		customer:   s.customer,
		sessionID:  s.sessionID,
		cart:       snapshot,
		done:       s.inflight,
	}
	if s.retained != nil {
		if s.retained.method == s.method && s.retained.total.Equal(snapshot.Total) {
			attempt.retained = s.retained
		} else {
			s.dropRetainedLocked(ctx, "cart or payment method changed")
		}
	}
	s.logger(ctx, "checkout_submitting", map[string]any{
		"checkoutId":    s.checkoutID,
		"attempt":       s.attempts,
		"paymentMethod": string(s.method),
		"total":         snapshot.Total.StringFixed(2),
	})
	return attempt, nil
}

func (s *CheckoutSession) authorize(ctx context.Context, attempt submission) (payments.Authorization, error) {
	if attempt.retained != nil {
		s.logger(ctx, "checkout_reusing_authorization", map[string]any{
			"checkoutId":       attempt.checkoutID,
			"paymentReference": attempt.retained.auth.Reference,
		})
		return attempt.retained.auth, nil
	}

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	started := time.Now()
	auth, err := s.callProcessor(ctx, payCtx, attempt, payments.AuthorizationRequest{
		Method:         attempt.method,
		Amount:         attempt.cart.Total,
		Currency:       s.currency,
		IdempotencyKey: attempt.idempotencyKey(),
		Token:          attempt.token,
		Customer: payments.Customer{
			Name:  attempt.customer.Name,
			Email: attempt.customer.Email,
			TaxID: attempt.customer.TaxID,
		},
		Description: fmt.Sprintf("checkout %s", attempt.checkoutID),
		Metadata: map[string]string{
			"checkout_id": attempt.checkoutID,
			"session_id":  attempt.sessionID,
		},
	})
	elapsed := time.Since(started)

	fields := map[string]any{
		"checkoutId":    attempt.checkoutID,
		"attempt":       attempt.number,
		"paymentMethod": string(attempt.method),
		"elapsedMs":     elapsed.Milliseconds(),
	}
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded)):
		s.metrics.ObservePayment(string(attempt.method), "timeout", elapsed)
		s.metrics.ObserveCheckout("timed_out")
		fields["error"] = err.Error()
		s.logger(ctx, "payment_timed_out", fields)
		return payments.Authorization{}, &PaymentError{TimedOut: true}
	case err != nil:
		reason := ""
		if payments.IsOpen(err) {
			reason = payments.DeclineReasonUnavailable
		}
		s.metrics.ObservePayment(string(attempt.method), "error", elapsed)
		s.metrics.ObserveCheckout("failed")
		fields["error"] = err.Error()
		s.logger(ctx, "payment_failed", fields)
		return payments.Authorization{}, &PaymentError{DeclineReason: reason, Err: err}
	case !auth.Approved:
		s.metrics.ObservePayment(string(attempt.method), "declined", elapsed)
		s.metrics.ObserveCheckout("declined")
		fields["declineReason"] = auth.DeclineReason
		s.logger(ctx, "payment_declined", fields)
		return payments.Authorization{}, &PaymentError{DeclineReason: auth.DeclineReason}
	}

	s.metrics.ObservePayment(string(attempt.method), "approved", elapsed)
	fields["paymentReference"] = auth.Reference
	s.logger(ctx, "payment_approved", fields)
	return auth, nil
}

type authorizeResult struct {
	auth payments.Authorization
	err  error
}

// callProcessor bounds the processor call by payCtx even when the processor ignores
// it. A result arriving after the deadline is handed to adoptLate.
func (s *CheckoutSession) callProcessor(ctx, payCtx context.Context, attempt submission, req payments.AuthorizationRequest) (payments.Authorization, error) {
	results := make(chan authorizeResult, 1)
	go func() {
		auth, err := s.processor.Authorize(payCtx, req)
		results <- authorizeResult{auth: auth, err: err}
	}()

	select {
	case res := <-results:
		return res.auth, res.err
	case <-payCtx.Done():
		go s.adoptLate(ctx, attempt, results)
		return payments.Authorization{}, payCtx.Err()
	}
}

// adoptLate keeps an approval that landed after its attempt timed out, so the next
// submission of the same checkout reuses it instead of charging again.
func (s *CheckoutSession) adoptLate(ctx context.Context, attempt submission, results <-chan authorizeResult) {
	res := <-results
	if res.err != nil || !res.auth.Approved {
		return
	}
	if attempt.done != nil {
		<-attempt.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields := map[string]any{
		"checkoutId":       attempt.checkoutID,
		"attempt":          attempt.number,
		"paymentReference": res.auth.Reference,
		"paymentMethod":    string(attempt.method),
		"total":            attempt.cart.Total.StringFixed(2),
	}
	if s.checkoutID != attempt.checkoutID || s.processing || s.stage != domain.CheckoutStageReviewing || s.retained != nil {
		fields["reason"] = "late approval after timeout"
		s.logger(ctx, "payment_authorization_orphaned", fields)
		return
	}
	s.retained = &retainedApproval{method: attempt.method, total: attempt.cart.Total, auth: res.auth}
	s.logger(ctx, "payment_late_approval_retained", fields)
}

// abort returns the checkout to REVIEWING. A non-nil approval is kept for the next attempt.
func (s *CheckoutSession) abort(ctx context.Context, attempt submission, approval *retainedApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if approval != nil {
		s.retained = approval
	}
	s.stage = domain.CheckoutStageReviewing
	s.finishLocked(attempt)
}

func (s *CheckoutSession) complete(attempt submission, order domain.Order, cart CartSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = &order
	s.retained = nil
	s.stage = domain.CheckoutStageDone
	cart.Clear()
	s.finishLocked(attempt)
}

func (s *CheckoutSession) finishLocked(attempt submission) {
	s.processing = false
	if attempt.done != nil {
		close(attempt.done)
	}
	if s.inflight == attempt.done {
		s.inflight = nil
	}
}

func (s *CheckoutSession) dispatch(ctx context.Context, order domain.Order) *DispatchError {
	if s.dispatcher == nil {
		return nil
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	if err := s.dispatcher.SendOrderConfirmation(dispatchCtx, s.confirmationFor(order)); err != nil {
		s.metrics.ObserveNotification("failed")
		s.logger(ctx, "notification_dispatch_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return &DispatchError{OrderID: order.ID, Err: err}
	}
	s.metrics.ObserveNotification("sent")
	s.logger(ctx, "notification_dispatched", map[string]any{"orderId": order.ID})
	return nil
}

func (s *CheckoutSession) confirmationFor(order domain.Order) notifications.OrderConfirmation {
	byItem := make(map[string]domain.DownloadEntitlement, len(order.Entitlements))
	for _, ent := range order.Entitlements {
		byItem[ent.ItemID] = ent
	}

	msg := notifications.OrderConfirmation{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.Customer.Name,
		CustomerEmail: order.Customer.Email,
		Total:         order.Total,
		Currency:      order.Currency,
		PaymentMethod: string(order.PaymentMethod),
		CreatedAt:     order.CreatedAt,
	}
	for _, line := range order.LineItems {
		item := notifications.LineItem{
			Title:       line.Title,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			DownloadRef: line.DownloadRef,
		}
		if ent, ok := byItem[line.ItemID]; ok {
			if s.publicBaseURL != "" {
				item.DownloadURL = s.publicBaseURL + "/downloads/" + ent.ID
			}
			if msg.ExpiresAt.IsZero() || ent.ExpiresAt.Before(msg.ExpiresAt) {
				msg.ExpiresAt = ent.ExpiresAt
			}
			msg.MaxDownloads = ent.MaxDownloads
		}
		msg.LineItems = append(msg.LineItems, item)
	}
	return msg
}

func (s *CheckoutSession) requireStageLocked(allowed ...domain.CheckoutStage) error {
	if s.processing {
		return ErrConcurrentModification
	}
	for _, stage := range allowed {
		if s.stage == stage {
			return nil
		}
	}
	reason := "step not allowed at this stage"
	if s.stage == domain.CheckoutStageDone {
		reason = "checkout already completed"
	}
	return &PreconditionError{Stage: string(s.stage), Reason: reason, Err: ErrInvalidTransition}
}

func (s *CheckoutSession) resetLocked(ctx context.Context) {
	s.dropRetainedLocked(ctx, "checkout reset")
	s.checkoutID = s.newID()
	s.stage = domain.CheckoutStageCollectingCustomer
	s.customer = domain.CustomerInfo{}
	s.method = ""
	s.token = ""
	s.attempts = 0
	s.order = nil
}

func (s *CheckoutSession) dropRetainedLocked(ctx context.Context, reason string) {
	if s.retained == nil {
		return
	}
	s.logger(ctx, "payment_authorization_orphaned", map[string]any{
		"checkoutId":       s.checkoutID,
		"paymentReference": s.retained.auth.Reference,
		"paymentMethod":    string(s.retained.method),
		"total":            s.retained.total.StringFixed(2),
		"reason":           reason,
	})
	s.retained = nil
}

func (s *CheckoutSession) stateLocked() CheckoutState {
	state := CheckoutState{
		CheckoutID:    s.checkoutID,
		Stage:         s.stage,
		Customer:      s.customer,
		PaymentMethod: s.method,
		Processing:    s.processing,
		Attempts:      s.attempts,
	}
	if s.order != nil {
		state.OrderID = s.order.ID
		state.OrderNumber = s.order.OrderNumber
	}
	return state
}

func validateCustomer(c domain.CustomerInfo) error {
	var fields []FieldError
	if strings.TrimSpace(c.Name) == "" {
		fields = append(fields, FieldError{Field: "name", Reason: "required"})
	}
	switch email := strings.TrimSpace(c.Email); {
	case email == "":
		fields = append(fields, FieldError{Field: "email", Reason: "required"})
	case !emailPattern.MatchString(email):
		fields = append(fields, FieldError{Field: "email", Reason: "invalid"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
