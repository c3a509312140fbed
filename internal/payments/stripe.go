package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go PaymentIntent flows for bookings: hold
// on confirmation, capture on ride completion, cancel on cancellation.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key. The key comes
// from config rather than being read here so tests can construct the
// client without environment setup.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a manual-capture PaymentIntent so funds are reserved
// but not moved until the ride completes. The ride id goes into intent
// metadata for reconciliation. Returns the PaymentIntent id.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID, rideID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String("carpool seat hold"),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.AddMetadata("ride_id", rideID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
