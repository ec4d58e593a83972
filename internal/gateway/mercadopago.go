package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/giroclub/giroclub-backend/internal/domain"
	"github.com/google/uuid"
)

const defaultMercadoPagoBaseURL = "https://api.mercadopago.com"

// MercadoPago implements Gateway against the Mercado Pago payments API using
// the Pix payment method.
type MercadoPago struct {
	baseURL     string
	accessToken string
	payerEmail  string
	client      *http.Client
}

// NewMercadoPago builds a client. baseURL may be empty to use the production
// endpoint; payerEmail is the fallback payer identity Pix charges require.
func NewMercadoPago(baseURL, accessToken, payerEmail string) *MercadoPago {
	if baseURL == "" {
		baseURL = defaultMercadoPagoBaseURL
	}
	if payerEmail == "" {
		payerEmail = "comprador+pix@giroclub.app"
	}
	return &MercadoPago{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		payerEmail:  payerEmail,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type mpPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             mpPayer `json:"payer"`
}

type mpPayer struct {
	Email string `json:"email"`
}

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	TransactionAmount  float64     `json:"transaction_amount"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (g *MercadoPago) CreateCharge(ctx context.Context, amountCents int64, description string) (*Charge, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("invalid charge amount: %d", amountCents)
	}
	if len(description) > 140 {
		description = description[:140]
	}

	body, err := json.Marshal(mpPaymentRequest{
		TransactionAmount: domain.BRL(amountCents).ToDecimal().InexactFloat64(),
		Description:       description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: g.payerEmail},
	})
	if err != nil {
		return nil, fmt.Errorf("encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Content-Type", "application/json")
	// Provider-side dedup; a network retry of the same request must not
	// produce two charges.
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	payment, err := g.doPayment(req)
	if err != nil {
		return nil, err
	}
	if payment.ID.String() == "" {
		return nil, fmt.Errorf("gateway response missing payment id")
	}

	return &Charge{
		ID:          payment.ID.String(),
		QRPayload:   payment.PointOfInteraction.TransactionData.QRCode,
		QRImage:     payment.PointOfInteraction.TransactionData.QRCodeBase64,
		AmountCents: amountCents,
		CreatedAt:   time.Now(),
	}, nil
}

func (g *MercadoPago) GetChargeStatus(ctx context.Context, id string) (*ChargeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	payment, err := g.doPayment(req)
	if err != nil {
		return nil, err
	}

	return &ChargeStatus{
		Status:      payment.Status,
		AmountCents: domain.FromDecimalFloat(payment.TransactionAmount),
	}, nil
}

// doPayment executes the request and decodes a payment body. The provider
// exposes no stable error contract, so every failure collapses into a generic
// adapter error carrying whatever message could be salvaged.
func (g *MercadoPago) doPayment(req *http.Request) (*mpPaymentResponse, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, errorMessage(raw))
	}

	var payment mpPaymentResponse
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &payment, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no response body"
	}
	return msg
}
