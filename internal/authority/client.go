package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"go.uber.org/zap"
)

type httpClient struct {
	baseURL string
	apiKey  string
	areaID  string
	client  *http.Client
	log     *zap.Logger
}

// NewHTTPClient builds the production authority client. Per-attempt
// deadlines come from the caller's context; the transport timeout is only a
// backstop against a hung connection.
func NewHTTPClient(cfg config.Config, log *zap.Logger) Client {
	return &httpClient{
		baseURL: strings.TrimRight(cfg.AuthorityBaseURL, "/"),
		apiKey:  cfg.AuthorityAPIKey,
		areaID:  cfg.AuthorityAreaID,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.Named("authority.client"),
	}
}

type submitLine struct {
	Description string `json:"itemDesc"`
	UnitPrice   string `json:"unitPrice"`
	Quantity    string `json:"quantity"`
	Discount    string `json:"discount"`
	BaseAmount  string `json:"amtWoVatCur"`
	VATAmount   string `json:"vatAmt"`
	LineTotal   string `json:"totalPrice"`
}

type submitRequest struct {
	InvoiceNumber string       `json:"invoiceIdentifier"`
	AreaID        string       `json:"areaId,omitempty"`
	SellerTIN     string       `json:"sellerTin"`
	BuyerTIN      string       `json:"buyerTin,omitempty"`
	BuyerName     string       `json:"buyerName"`
	PaymentMethod string       `json:"paymentMethod"`
	BaseAmount    string       `json:"totalAmtWoVatCur"`
	VATAmount     string       `json:"totalVatAmt"`
	InvoiceTotal  string       `json:"invoiceTotal"`
	IssuedAt      string       `json:"dateTimeInvoiceIssued"`
	Lines         []submitLine `json:"itemList"`
}

type submitResponse struct {
	Status    string `json:"status"`
	Reference string `json:"irn"`
	Message   string `json:"message"`
}

func (c *httpClient) Submit(ctx context.Context, inv *invoicedomain.Invoice, lines []invoicedomain.InvoiceLine) (Result, error) {
	body := submitRequest{
		InvoiceNumber: inv.InvoiceNumber,
		AreaID:        c.areaID,
		SellerTIN:     inv.SellerTIN,
		BuyerName:     inv.BuyerName,
		PaymentMethod: inv.PaymentMethod,
		BaseAmount:    inv.BaseAmount.StringFixed(2),
		VATAmount:     inv.VATAmount.StringFixed(2),
		InvoiceTotal:  inv.InvoiceTotal.StringFixed(2),
		IssuedAt:      inv.CreatedAt.UTC().Format(time.RFC3339),
	}
	if inv.BuyerTIN != nil {
		body.BuyerTIN = *inv.BuyerTIN
	}
	for _, line := range lines {
		body.Lines = append(body.Lines, submitLine{
			Description: line.Description,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			Quantity:    line.Quantity.String(),
			Discount:    line.Discount.StringFixed(2),
			BaseAmount:  line.BaseAmount.StringFixed(2),
			VATAmount:   line.VATAmount.StringFixed(2),
			LineTotal:   line.LineTotal.StringFixed(2),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	// The invoice number is unique per document, so replays of the same
	// attempt are deduplicated authority-side.
	req.Header.Set("Idempotency-Key", inv.InvoiceNumber)

	resp, err := c.client.Do(req)
	if err != nil {
		return transientResult(err), nil
	}
	defer resp.Body.Close()

	return classify(resp), nil
}

func (c *httpClient) Lookup(ctx context.Context, invoiceNumber string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/invoices/"+invoiceNumber, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority_lookup_status_%d", resp.StatusCode)
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	result := resultFromBody(decoded)
	return &result, nil
}

func classify(resp *http.Response) Result {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Kind: OutcomeTransient, Reason: "throttled"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{Kind: OutcomeTransient, Reason: fmt.Sprintf("authority_status_%d", resp.StatusCode)}
	case resp.StatusCode >= http.StatusBadRequest:
		reason := fmt.Sprintf("authority_status_%d", resp.StatusCode)
		var decoded submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil && decoded.Message != "" {
			reason = decoded.Message
		}
		return Result{Kind: OutcomeRejected, Reason: reason}
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// A 2xx with an unreadable body is indistinguishable from a
		// dropped response; let the worker retry and dedupe by number.
		return Result{Kind: OutcomeTransient, Reason: "unreadable_response"}
	}
	return resultFromBody(decoded)
}

func resultFromBody(decoded submitResponse) Result {
	switch strings.ToUpper(decoded.Status) {
	case "SUCCESS", "PROCESSED", "ACCEPTED":
		return Result{Kind: OutcomeAccepted, Reference: decoded.Reference}
	default:
		reason := decoded.Message
		if reason == "" {
			reason = "rejected_status_" + decoded.Status
		}
		return Result{Kind: OutcomeRejected, Reason: reason}
	}
}

func transientResult(err error) Result {
	reason := "connection_failure"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	return Result{Kind: OutcomeTransient, Reason: reason}
}
