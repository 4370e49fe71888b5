package payment

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	gatewayProductionAPI = "https://api.tpay.com"
	gatewaySandboxAPI    = "https://openapi.sandbox.tpay.com"
	gatewayProductionPay = "https://secure.tpay.com"
	gatewaySandboxPay    = "https://sandbox.tpay.com"
)

type GatewayOptions struct {
	ClientID     string
	ClientSecret string
	Production   bool
	SecurityCode string

	// AppURL receives notifications, FrontendURL receives the payer.
	AppURL      string
	FrontendURL string

	// BaseURL overrides the API host picked from Production.
	BaseURL string
}

// GatewayAdapter registers redirect-based transactions with the alternative
// gateway and decodes its notifications.
type GatewayAdapter struct {
	opts   GatewayOptions
	base   string
	client *http.Client
}

var (
	_ port.PaymentAdapter = (*GatewayAdapter)(nil)
	_ port.CallbackParser = (*GatewayAdapter)(nil)
)

// NewGatewayAdapter wraps httpClient with a client credentials token source;
// tokens are fetched lazily and cached until they expire.
func NewGatewayAdapter(opts GatewayOptions, httpClient *http.Client) *GatewayAdapter {
	base := opts.BaseURL
	if base == "" {
		base = gatewaySandboxAPI
		if opts.Production {
			base = gatewayProductionAPI
		}
	}
	base = strings.TrimRight(base, "/")

	cc := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     base + "/oauth/auth",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &GatewayAdapter{
		opts:   opts,
		base:   base,
		client: cc.Client(ctx),
	}
}

func (a *GatewayAdapter) Method() domain.PaymentMethod { return domain.PaymentMethodAltGateway }

func (a *GatewayAdapter) Configured() bool {
	return a.opts.ClientID != "" && a.opts.ClientSecret != ""
}

type gatewayTransactionRequest struct {
	Amount            json.Number      `json:"amount"`
	Description       string           `json:"description"`
	HiddenDescription string           `json:"hiddenDescription"`
	Lang              string           `json:"lang"`
	Payer             gatewayPayer     `json:"payer"`
	Callbacks         gatewayCallbacks `json:"callbacks"`
}

type gatewayPayer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type gatewayCallbacks struct {
	Notification struct {
		URL string `json:"url"`
	} `json:"notification"`
	PayerURLs struct {
		Success string `json:"success"`
		Error   string `json:"error"`
	} `json:"payerUrls"`
}

type gatewayTransactionResponse struct {
	Result                string `json:"result"`
	TransactionID         string `json:"transactionId"`
	Title                 string `json:"title"`
	TransactionPaymentURL string `json:"transactionPaymentUrl"`
	PaymentURL            string `json:"paymentUrl"`
}

func (a *GatewayAdapter) Initiate(ctx context.Context, order *domain.Order) (*domain.PaymentInitiation, error) {
	body := gatewayTransactionRequest{
		Amount:            json.Number(order.Total.StringFixed(2)),
		Description:       Description(order),
		HiddenDescription: domain.OrderReference(order.ID),
		Lang:              "pl",
		Payer:             gatewayPayer{Email: order.ShipTo.Email, Name: order.ShipTo.Name},
	}
	body.Callbacks.Notification.URL = strings.TrimRight(a.opts.AppURL, "/") + "/webhooks/alt_gateway"
	body.Callbacks.PayerURLs.Success = strings.TrimRight(a.opts.FrontendURL, "/") + "/orders"
	body.Callbacks.PayerURLs.Error = body.Callbacks.PayerURLs.Success

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/transactions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build transaction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create transaction: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out gatewayTransactionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if out.TransactionID == "" {
		return nil, fmt.Errorf("create transaction: no transactionId in response: %s", strings.TrimSpace(string(raw)))
	}

	return &domain.PaymentInitiation{
		Method:        domain.PaymentMethodAltGateway,
		CorrelationID: out.TransactionID,
		RedirectURL:   a.redirectURL(out),
	}, nil
}

func (a *GatewayAdapter) redirectURL(out gatewayTransactionResponse) string {
	switch {
	case out.TransactionPaymentURL != "":
		return out.TransactionPaymentURL
	case out.PaymentURL != "":
		return out.PaymentURL
	}
	host := gatewaySandboxPay
	if a.opts.Production {
		host = gatewayProductionPay
	}
	return host + "/?title=" + url.QueryEscape(out.TransactionID)
}

// ParseCallback accepts the notification as a form or as JSON. The md5sum
// field must match, and nothing is accepted without a security code.
func (a *GatewayAdapter) ParseCallback(r *http.Request) (domain.Callback, error) {
	fields, err := gatewayFields(r)
	if err != nil {
		return domain.Callback{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if a.opts.SecurityCode == "" {
		return domain.Callback{}, fmt.Errorf("%w: security code not configured", domain.ErrValidation)
	}
	if subtle.ConstantTimeCompare([]byte(a.checksum(fields)), []byte(strings.ToLower(fields["md5sum"]))) != 1 {
		return domain.Callback{}, fmt.Errorf("%w: checksum mismatch", domain.ErrValidation)
	}

	cb := domain.Callback{
		Provider:      domain.PaymentMethodAltGateway,
		TransactionID: fields["tr_id"],
		RawStatus:     fields["tr_status"],
	}
	switch strings.ToUpper(cb.RawStatus) {
	case "TRUE", "PAID":
		cb.Outcome = domain.OutcomeSucceeded
	case "FALSE", "ERROR":
		cb.Outcome = domain.OutcomeFailed
	}
	for _, key := range []string{"tr_desc", "tr_crc"} {
		if v := fields[key]; v != "" {
			cb.References = append(cb.References, v)
		}
	}
	return cb, nil
}

// checksum is md5(id + tr_id + tr_amount + tr_crc + security code) in hex.
func (a *GatewayAdapter) checksum(fields map[string]string) string {
	sum := md5.Sum([]byte(fields["id"] + fields["tr_id"] + fields["tr_amount"] + fields["tr_crc"] + a.opts.SecurityCode))
	return hex.EncodeToString(sum[:])
}

func gatewayFields(r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json: %v", err)
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			if v != nil {
				fields[k] = fmt.Sprint(v)
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %v", err)
	}
	fields := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return fields, nil
}
