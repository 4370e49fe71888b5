package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

const maxRequestBody = 1 << 20

type HTTPHandler struct {
	orders    *service.OrderService
	payments  *service.PaymentService
	webhooks  *service.WebhookReconciler
	discounts *service.DiscountEvaluator
	callbacks map[domain.PaymentMethod]port.CallbackParser
	logger    *zap.Logger
}

func NewHTTPHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	webhooks *service.WebhookReconciler,
	discounts *service.DiscountEvaluator,
	callbacks map[domain.PaymentMethod]port.CallbackParser,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orders:    orders,
		payments:  payments,
		webhooks:  webhooks,
		discounts: discounts,
		callbacks: callbacks,
		logger:    logger,
	}
}

type RouterConfig struct {
	JWTSecret        []byte
	WebhookRateLimit float64
	Metrics          *observability.Metrics
	// MetricsHandler is mounted on GET /metrics when set.
	MetricsHandler http.Handler
}

func (h *HTTPHandler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observe(h.logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/pay", h.InitiatePayment)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
		r.Post("/coupons/validate", h.ValidateCoupon)
	})

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(cfg.WebhookRateLimit))
		r.Post("/webhooks/card", h.webhook(domain.PaymentMethodCard))
		r.Post("/webhooks/alt_gateway", h.webhook(domain.PaymentMethodAltGateway))
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type placeOrderRequest struct {
	CartID             int64  `json:"cart_id"`
	CouponCode         string `json:"coupon_code"`
	ShippingName       string `json:"shipping_name"`
	ShippingEmail      string `json:"shipping_email"`
	ShippingPhone      string `json:"shipping_phone"`
	ShippingAddress    string `json:"shipping_address"`
	ShippingCity       string `json:"shipping_city"`
	ShippingPostalCode string `json:"shipping_postal_code"`
	ShippingCountry    string `json:"shipping_country"`
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderInput{
		UserID:     userID,
		CartID:     req.CartID,
		CouponCode: req.CouponCode,
		ShipTo: domain.ShippingAddress{
			Name:       req.ShippingName,
			Email:      req.ShippingEmail,
			Phone:      req.ShippingPhone,
			Address:    req.ShippingAddress,
			City:       req.ShippingCity,
			PostalCode: req.ShippingPostalCode,
			Country:    req.ShippingCountry,
		},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{
		Message: "Order created successfully",
		Data:    presentOrder(order, h.payments.BankDetails),
	})
}

type paginationMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

type orderListResponse struct {
	Data []orderResponse `json:"data"`
	Meta paginationMeta  `json:"meta"`
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	perPage, err := queryInt(r, "per_page", service.DefaultPerPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.orders.ListOrders(r.Context(), userID, page, perPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := orderListResponse{
		Data: make([]orderResponse, 0, len(result.Orders)),
		Meta: paginationMeta{
			CurrentPage: result.Page,
			PerPage:     result.PerPage,
			Total:       result.Total,
			LastPage:    result.LastPage(),
		},
	}
	for i := range result.Orders {
		resp.Data = append(resp.Data, presentOrder(&result.Orders[i], h.payments.BankDetails))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": presentOrder(order, h.payments.BankDetails)})
}

type initiatePaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type initiatePaymentResponse struct {
	Message       string               `json:"message"`
	PaymentMethod string               `json:"payment_method"`
	ClientSecret  string               `json:"client_secret,omitempty"`
	RedirectURL   string               `json:"redirect_url,omitempty"`
	BankDetails   *bankDetailsResponse `json:"bank_details,omitempty"`
	Order         orderResponse        `json:"order"`
}

func (h *HTTPHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req initiatePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.payments.InitiatePayment(r.Context(), userID, orderID, method)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	init := result.Initiation
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		Message:       "Payment initiated",
		PaymentMethod: init.Method.String(),
		ClientSecret:  init.ClientSecret,
		RedirectURL:   init.RedirectURL,
		BankDetails:   presentBankDetails(init.BankDetails),
		Order:         presentOrder(result.Order, h.payments.BankDetails),
	})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	orderID, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Order cancelled",
		Data:    presentOrder(order, h.payments.BankDetails),
	})
}

type validateCouponRequest struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

type couponPreviewResponse struct {
	Code     string  `json:"code"`
	Type     string  `json:"type"`
	Value    float64 `json:"value"`
	Discount float64 `json:"discount"`
}

func (h *HTTPHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req validateCouponRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	applied, err := h.discounts.Preview(r.Context(), req.Code, userID, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Coupon is valid",
		Data: couponPreviewResponse{
			Code:     applied.Coupon.Code,
			Type:     string(applied.Coupon.Type),
			Value:    money(applied.Coupon.Value),
			Discount: money(applied.Amount),
		},
	})
}

func (h *HTTPHandler) webhook(provider domain.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parser, ok := h.callbacks[provider]
		if !ok {
			writeError(w, r, h.logger, fmt.Errorf("no callback parser for %s", provider))
			return
		}

		cb, err := parser.ParseCallback(r)
		if err != nil {
			observability.LoggerFromContext(r.Context(), h.logger).Warn("webhook_rejected",
				zap.String("provider", provider.String()), zap.Error(err))
			writeError(w, r, h.logger, err)
			return
		}
		if cb.TransactionID == "" && cb.Outcome == domain.OutcomeIgnored {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
			return
		}

		result, err := h.webhooks.Reconcile(r.Context(), cb)
		switch {
		case errors.Is(err, domain.ErrUnknownCallback):
			writeJSON(w, http.StatusNotFound, webhookResponse{Error: "unknown transaction"})
			return
		case err != nil:
			writeError(w, r, h.logger, err)
			return
		}

		status := "ok"
		if cb.Outcome == domain.OutcomeIgnored && !result.Duplicate {
			status = "ignored"
		}
		writeJSON(w, http.StatusOK, webhookResponse{Status: status})
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, errInvalidBody)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrOrderNotFound
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, key)
	}
	return v, nil
}
