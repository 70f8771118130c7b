package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/topmanuais/api/internal/domain"
)

const stripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe processor operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessorConfig configures the StripeProcessor.
type StripeProcessorConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Intents   stripePaymentIntentAPI
}

// StripeProcessor authorizes payments by creating and confirming a PaymentIntent in one call.
type StripeProcessor struct {
	intents stripePaymentIntentAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProcessor constructs a Stripe backed Processor.
func NewStripeProcessor(cfg StripeProcessorConfig) (*StripeProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProcessor{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize creates a confirmed PaymentIntent. Card errors are reported as declines;
// transport and API errors are returned as errors.
func (p *StripeProcessor) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	if p == nil {
		return Authorization{}, errors.New("stripe: processor is nil")
	}
	amount, err := MinorUnits(req.Amount)
	if err != nil {
		return Authorization{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(normaliseCurrency(req.Currency))),
		Confirm:  stripe.Bool(true),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	switch req.Method {
	case domain.PaymentMethodCreditCard:
		token := strings.TrimSpace(req.Token)
		if token == "" {
			return Authorization{Provider: stripeProviderName, DeclineReason: "payment_method_required"}, nil
		}
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.PaymentMethod = stripe.String(token)
	case domain.PaymentMethodPIX:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"pix"})
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("pix"),
		}
	case domain.PaymentMethodBoleto:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"boleto"})
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("boleto"),
			BillingDetails: &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{
				Name:  stripe.String(req.Customer.Name),
				Email: stripe.String(req.Customer.Email),
			},
			Boleto: &stripe.PaymentMethodBoletoParams{
				TaxID: stripe.String(req.Customer.TaxID),
			},
		}
	default:
		return Authorization{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	start := p.clock()
	intent, err := p.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			reason := string(stripeErr.DeclineCode)
			if reason == "" {
				reason = string(stripeErr.Code)
			}
			p.logger(ctx, "payments.stripe.intent.declined", map[string]any{
				"method":    string(req.Method),
				"reason":    reason,
				"elapsedMs": p.clock().Sub(start).Milliseconds(),
			})
			return Authorization{Provider: stripeProviderName, DeclineReason: reason}, nil
		}
		return Authorization{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	auth := stripeAuthorization(intent)
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
		"approved":      auth.Approved,
		"elapsedMs":     p.clock().Sub(start).Milliseconds(),
	})
	return auth, nil
}

// stripeAuthorization maps intent status onto the approve/decline verdict. PIX and
// boleto intents that still wait on the shopper are not approvals.
func stripeAuthorization(intent *stripe.PaymentIntent) Authorization {
	auth := Authorization{Provider: stripeProviderName}
	if intent == nil {
		auth.DeclineReason = DeclineReasonUnavailable
		return auth
	}
	auth.Reference = intent.ID
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusProcessing:
		auth.Approved = true
	case stripe.PaymentIntentStatusRequiresAction:
		auth.DeclineReason = DeclineReasonRequiresAction
	default:
		auth.DeclineReason = string(intent.Status)
		if intent.LastPaymentError != nil {
			if code := string(intent.LastPaymentError.DeclineCode); code != "" {
				auth.DeclineReason = code
			}
		}
	}
	return auth
}
