package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"merchant-checkout-api/internal/cache"
	"merchant-checkout-api/internal/checkout"
	"merchant-checkout-api/internal/database"
	"merchant-checkout-api/internal/features"
	"merchant-checkout-api/internal/models"
	"merchant-checkout-api/internal/validation"
)

// OTPSettings is the runtime-mutable OTP gate, satisfied by
// *payment.Processor.
type OTPSettings interface {
	OTPEnabled() bool
	OTPThreshold() float64
	SetOTPEnabled(enabled bool)
	SetOTPThreshold(threshold float64)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *checkout.Service
	settings    OTPSettings
	cache       cache.Cache
	features    *features.Manager
	maxBodySize int64
	cacheTTL    time.Duration

	merchantName   string
	merchantID     string
	merchantDomain string

	didMu       sync.RWMutex
	didDocument json.RawMessage
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize    int64
	CacheTTL       time.Duration
	MerchantName   string
	MerchantID     string
	MerchantDomain string
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:    10 << 20, // 10MB default
		CacheTTL:       5 * time.Minute,
		MerchantName:   "Demo Merchant",
		MerchantID:     "merchant-001",
		MerchantDomain: "localhost:8080",
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *checkout.Service, settings OTPSettings, c cache.Cache, fm *features.Manager, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:        svc,
		settings:       settings,
		cache:          c,
		features:       fm,
		maxBodySize:    opts.MaxBodySize,
		cacheTTL:       opts.CacheTTL,
		merchantName:   opts.MerchantName,
		merchantID:     opts.MerchantID,
		merchantDomain: opts.MerchantDomain,
	}
}

// SetDIDDocument installs the DID document served at /.well-known/did.json.
func (h *Handler) SetDIDDocument(doc json.RawMessage) {
	h.didMu.Lock()
	defer h.didMu.Unlock()
	h.didDocument = doc
}

// CreateCheckoutSession handles POST /ucp/v1/checkout-sessions
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.BuyerEmail = validation.SanitizeString(req.BuyerEmail)
	req.Currency = validation.SanitizeString(req.Currency)
	req.Promocode = validation.SanitizeString(req.Promocode)
	for i := range req.LineItems {
		req.LineItems[i].Name = validation.SanitizeString(req.LineItems[i].Name)
		req.LineItems[i].SKU = validation.SanitizeString(req.LineItems[i].SKU)
	}

	session, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, session)
}

// GetCheckoutSession handles GET /ucp/v1/checkout-sessions/{session_id}
func (h *Handler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	sessionID := validation.SanitizeString(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// UpdateCheckoutSession handles PUT /ucp/v1/checkout-sessions/{session_id}
func (h *Handler) UpdateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	sessionID := validation.SanitizeString(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var req models.UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	session, err := h.service.UpdateSession(r.Context(), sessionID, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// CompleteCheckoutSession handles POST /ucp/v1/checkout-sessions/{session_id}/complete
func (h *Handler) CompleteCheckoutSession(w http.ResponseWriter, r *http.Request) {
	sessionID := validation.SanitizeString(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	otpCode := validation.SanitizeString(r.URL.Query().Get("otp_code"))

	result, err := h.service.Complete(r.Context(), sessionID, otpCode)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// ListPromocodes handles GET /api/promocodes
func (h *Handler) ListPromocodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.service.ListPromocodes(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if codes == nil {
		codes = []models.Promocode{}
	}

	h.respondJSON(w, http.StatusOK, codes)
}

// GetPromocode handles GET /api/promocodes/{promocode_id}
func (h *Handler) GetPromocode(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "promocode_id"))

	code, err := h.service.GetPromocode(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, code)
}

// CreatePromocode handles POST /api/promocodes
func (h *Handler) CreatePromocode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreatePromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.Code = validation.SanitizeString(req.Code)
	req.Description = validation.SanitizeString(req.Description)

	code, err := h.service.CreatePromocode(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, code)
}

// UpdatePromocode handles PUT /api/promocodes/{promocode_id}
func (h *Handler) UpdatePromocode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	id := validation.SanitizeString(chi.URLParam(r, "promocode_id"))

	var req models.UpdatePromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	code, err := h.service.UpdatePromocode(r.Context(), id, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, code)
}

// DeletePromocode handles DELETE /api/promocodes/{promocode_id}
func (h *Handler) DeletePromocode(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "promocode_id"))

	if err := h.service.DeletePromocode(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Promocode deleted"})
}

// ListProducts handles GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}

	h.respondJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /api/products/{product_id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := validation.SanitizeString(chi.URLParam(r, "product_id"))

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// SearchProducts handles GET /api/products/search?q=
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	query := validation.SanitizeString(r.URL.Query().Get("q"))
	if query == "" {
		h.respondError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	useCache := h.cache != nil && h.features.IsEnabled(features.FeatureCacheEnabled)
	key := cache.Key("search", query)

	if useCache {
		var cached models.SearchResponse
		if err := cache.GetJSON(r.Context(), h.cache, key, &cached); err == nil {
			h.respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := h.service.SearchProducts(r.Context(), query)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if useCache {
		// Cache write failures are not worth failing the request over.
		_ = cache.SetJSON(r.Context(), h.cache, key, result, h.cacheTTL)
	}

	h.respondJSON(w, http.StatusOK, result)
}

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, models.MerchantSettings{
		MerchantName:       h.merchantName,
		MerchantID:         h.merchantID,
		MerchantDomain:     h.merchantDomain,
		OTPEnabled:         h.settings.OTPEnabled(),
		OTPAmountThreshold: h.settings.OTPThreshold(),
	})
}

// UpdateSettings handles PUT /api/settings. Changes are in-memory only and
// reset on restart.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.UpdateMerchantSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if req.OTPAmountThreshold != nil && *req.OTPAmountThreshold < 0 {
		h.respondError(w, http.StatusBadRequest, "otp_amount_threshold must be non-negative")
		return
	}

	if req.OTPEnabled != nil {
		h.settings.SetOTPEnabled(*req.OTPEnabled)
	}
	if req.OTPAmountThreshold != nil {
		h.settings.SetOTPThreshold(*req.OTPAmountThreshold)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":              "Settings updated successfully (in-memory only)",
		"otp_enabled":          h.settings.OTPEnabled(),
		"otp_amount_threshold": h.settings.OTPThreshold(),
	})
}

// GetDIDDocument handles GET /.well-known/did.json
func (h *Handler) GetDIDDocument(w http.ResponseWriter, r *http.Request) {
	h.didMu.RLock()
	doc := h.didDocument
	h.didMu.RUnlock()

	if doc == nil {
		h.respondError(w, http.StatusNotFound, "DID document not available")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondServiceError maps service errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *validation.ValidationError
		notReadyErr   *checkout.NotReadyError
		terminalErr   *checkout.TerminalStateError
		otpErr        *checkout.OTPError
		signingErr    *checkout.SigningError
	)

	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		h.respondError(w, http.StatusNotFound, "Checkout session not found")
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrDuplicate):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrMandateMissing):
		h.respondError(w, http.StatusBadRequest, "Payment mandate missing")
	case errors.As(err, &validationErr),
		errors.As(err, &notReadyErr),
		errors.As(err, &otpErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &terminalErr):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &signingErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
