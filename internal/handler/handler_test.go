package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"merchant-checkout-api/internal/cache"
	"merchant-checkout-api/internal/checkout"
	"merchant-checkout-api/internal/database"
	"merchant-checkout-api/internal/events"
	"merchant-checkout-api/internal/features"
	"merchant-checkout-api/internal/models"
	"merchant-checkout-api/internal/signing"
)

// fakeSigner signs every credential with a fixed JWT.
type fakeSigner struct{}

func (f *fakeSigner) SignCredential(ctx context.Context, domain string, unsigned *signing.Credential) (string, error) {
	return "header.payload.testsig", nil
}

// fakeProcessor always settles.
type fakeProcessor struct{}

func (f *fakeProcessor) ShouldChallenge(m models.PaymentMandate) bool { return false }

func (f *fakeProcessor) CreateChallenge(m models.PaymentMandate) (*models.OTPChallenge, error) {
	return &models.OTPChallenge{MandateID: m.MandateID}, nil
}

func (f *fakeProcessor) VerifyOTP(mandateID, code string) (bool, string) { return true, "" }

func (f *fakeProcessor) VoidChallenge(mandateID string) {}

func (f *fakeProcessor) Process(ctx context.Context, m models.PaymentMandate) models.PaymentReceipt {
	return models.PaymentReceipt{
		MandateID: m.MandateID,
		Timestamp: "2025-06-01T10:00:00Z",
		PaymentID: "PAY-TEST12345678",
		Amount:    m.TotalAmount,
		Status: models.ReceiptStatus{
			Success: &models.ReceiptSuccess{MerchantConfirmationID: "MCH-TEST1234"},
		},
	}
}

// fakeSettings is an in-memory OTPSettings.
type fakeSettings struct {
	enabled   bool
	threshold float64
}

func (f *fakeSettings) OTPEnabled() bool                 { return f.enabled }
func (f *fakeSettings) OTPThreshold() float64            { return f.threshold }
func (f *fakeSettings) SetOTPEnabled(enabled bool)       { f.enabled = enabled }
func (f *fakeSettings) SetOTPThreshold(threshold float64) { f.threshold = threshold }

func setupHandler(t *testing.T) (*Handler, *database.DB, func()) {
	t.Helper()

	dbPath := fmt.Sprintf("./test_handler_%d.db", time.Now().UnixNano())
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	em := events.NewManager(false)
	fm := features.NewManager()
	fm.Register(features.FeatureCacheEnabled, true, "Catalog search cache")

	svc := checkout.NewService(
		checkout.NewMemoryStore(), db, &fakeSigner{}, &fakeProcessor{}, em,
		"merchant.example.com", "strict")

	h := NewHandler(svc, &fakeSettings{enabled: true, threshold: 100}, cache.NewInMemoryCache(), fm, NewHandlerOptions{
		MaxBodySize:    1 << 20,
		CacheTTL:       time.Minute,
		MerchantName:   "Test Merchant",
		MerchantID:     "merchant-test",
		MerchantDomain: "merchant.example.com",
	})

	cleanup := func() {
		em.Shutdown()
		fm.Shutdown()
		db.Close()
		os.Remove(dbPath)
	}
	return h, db, cleanup
}

// testRouter mirrors the production route table.
func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Route("/ucp/v1/checkout-sessions", func(r chi.Router) {
		r.Post("/", h.CreateCheckoutSession)
		r.Get("/{session_id}", h.GetCheckoutSession)
		r.Put("/{session_id}", h.UpdateCheckoutSession)
		r.Post("/{session_id}/complete", h.CompleteCheckoutSession)
	})
	r.Route("/api/promocodes", func(r chi.Router) {
		r.Get("/", h.ListPromocodes)
		r.Post("/", h.CreatePromocode)
		r.Get("/{promocode_id}", h.GetPromocode)
		r.Put("/{promocode_id}", h.UpdatePromocode)
		r.Delete("/{promocode_id}", h.DeletePromocode)
	})
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/search", h.SearchProducts)
		r.Get("/{product_id}", h.GetProduct)
	})
	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
	})
	r.Get("/.well-known/did.json", h.GetDIDDocument)
	r.Get("/health", h.Health)

	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

func createSessionBody() models.CreateSessionRequest {
	return models.CreateSessionRequest{
		LineItems: []models.LineItem{
			{SKU: "PEN-01", Name: "Gel Pen", Quantity: 1, Price: 4.99},
			{SKU: "NB-05", Name: "A5 Notebook", Quantity: 2, Price: 3.79},
		},
		BuyerEmail: "buyer@example.com",
	}
}

func mandateBody() models.UpdateSessionRequest {
	return models.UpdateSessionRequest{
		PaymentMandate: &models.PaymentMandate{
			MandateID:   "PM-ABCDEF1234567890",
			Timestamp:   "2025-06-01T10:00:00Z",
			TotalAmount: models.CurrencyAmount{Currency: "SGD", Value: 12.57},
			PaymentMethod: models.PaymentMethod{
				RequestID:  "REQ-ABCDEF123456",
				MethodName: "CARD",
				PayerEmail: "buyer@example.com",
			},
			UserAuthorization: "user-authorization-signature",
		},
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions", createSessionBody())

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var session models.CheckoutSession
	decodeBody(t, rec, &session)
	if !strings.HasPrefix(session.ID, "cs_") {
		t.Errorf("Unexpected session ID: %s", session.ID)
	}
	if session.Totals.Total != 12.57 {
		t.Errorf("Unexpected total: %v", session.Totals.Total)
	}
}

func TestCreateCheckoutSession_EmptyBody(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var errResp models.ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != "request body is required" {
		t.Errorf("Unexpected error: %s", errResp.Error)
	}
}

func TestCreateCheckoutSession_NoLineItems(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions", models.CreateSessionRequest{
		BuyerEmail: "buyer@example.com",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetCheckoutSession_NotFound(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/ucp/v1/checkout-sessions/cs_doesnotexist0000", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}

	var errResp models.ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != "Checkout session not found" {
		t.Errorf("Unexpected error: %s", errResp.Error)
	}
}

func TestCheckoutFlow_CreateUpdateComplete(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions", createSessionBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d", rec.Code)
	}
	var session models.CheckoutSession
	decodeBody(t, rec, &session)

	rec = doRequest(t, router, http.MethodPut, "/ucp/v1/checkout-sessions/"+session.ID, mandateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &session)
	if session.Status != models.SessionReadyForComplete {
		t.Fatalf("Expected ready_for_complete, got %s", session.Status)
	}
	if session.MerchantSignature != "testsig" {
		t.Errorf("Expected merchant signature testsig, got %q", session.MerchantSignature)
	}

	rec = doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions/"+session.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result models.CompleteSessionResponse
	decodeBody(t, rec, &result)
	if result.Status != models.CompletionSuccess {
		t.Fatalf("Expected success, got %s (%s)", result.Status, result.Message)
	}
	if result.Message != "Payment completed successfully!" {
		t.Errorf("Unexpected message: %s", result.Message)
	}

	// Completing again fails fast
	rec = doRequest(t, router, http.MethodPost, "/ucp/v1/checkout-sessions/"+session.ID+"/complete", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Repeat complete: expected 400, got %d", rec.Code)
	}

	// And updating a completed session conflicts
	rec = doRequest(t, router, http.MethodPut, "/ucp/v1/checkout-sessions/"+session.ID, mandateBody())
	if rec.Code != http.StatusConflict {
		t.Errorf("Update after complete: expected 409, got %d", rec.Code)
	}
}

func TestPromocodeCRUD(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/api/promocodes", models.CreatePromocodeRequest{
		Code:          "SPRING15",
		Description:   "Spring sale",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: 15,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Promocode
	decodeBody(t, rec, &created)
	if !strings.HasPrefix(created.ID, "PROMO-") {
		t.Errorf("Unexpected promocode ID: %s", created.ID)
	}
	if created.Currency != "SGD" {
		t.Errorf("Expected default currency SGD, got %s", created.Currency)
	}
	if !created.IsActive {
		t.Error("Expected new promocode to be active")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/promocodes/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List: expected 200, got %d", rec.Code)
	}
	var list []models.Promocode
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 promocode, got %d", len(list))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/promocodes/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Get: expected 200, got %d", rec.Code)
	}

	inactive := false
	rec = doRequest(t, router, http.MethodPut, "/api/promocodes/"+created.ID, models.UpdatePromocodeRequest{
		IsActive: &inactive,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Promocode
	decodeBody(t, rec, &updated)
	if updated.IsActive {
		t.Error("Expected promocode deactivated")
	}

	rec = doRequest(t, router, http.MethodDelete, "/api/promocodes/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Delete: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/promocodes/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete: expected 404, got %d", rec.Code)
	}
}

func TestCreatePromocode_DuplicateCode(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	body := models.CreatePromocodeRequest{
		Code:          "SPRING15",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: 15,
	}
	if rec := doRequest(t, router, http.MethodPost, "/api/promocodes", body); rec.Code != http.StatusCreated {
		t.Fatalf("Create: expected 201, got %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/promocodes", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate code, got %d", rec.Code)
	}
}

func TestCreatePromocode_BadDiscountType(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/api/promocodes", models.CreatePromocodeRequest{
		Code:          "BOGO",
		DiscountType:  "buy_one_get_one",
		DiscountValue: 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestSearchProducts(t *testing.T) {
	h, db, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := db.UpsertProduct(models.Product{
		ID: "prod_pen01", SKU: "PEN-01", Name: "Gel Pen", Description: "Smooth 0.5mm",
		Price: 4.99, Currency: "SGD", Category: "stationery", IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/products/search?q=pen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result models.SearchResponse
	decodeBody(t, rec, &result)
	if result.Total != 1 || len(result.Items) != 1 {
		t.Fatalf("Expected 1 hit, got %+v", result)
	}
	if result.Items[0].Price != 499 {
		t.Errorf("Expected price in cents 499, got %d", result.Items[0].Price)
	}

	// Second search is served from cache even if the row disappears
	if err := db.UpsertProduct(models.Product{
		ID: "prod_pen01", SKU: "PEN-01", Name: "Renamed", Price: 4.99, Currency: "SGD",
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/products/search?q=pen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &result)
	if len(result.Items) != 1 || result.Items[0].Title != "Gel Pen" {
		t.Errorf("Expected cached result, got %+v", result)
	}
}

func TestSearchProducts_MissingQuery(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/api/products/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestSettings_GetAndUpdate(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/api/settings/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Get: expected 200, got %d", rec.Code)
	}
	var settings models.MerchantSettings
	decodeBody(t, rec, &settings)
	if settings.MerchantName != "Test Merchant" || !settings.OTPEnabled || settings.OTPAmountThreshold != 100 {
		t.Errorf("Unexpected settings: %+v", settings)
	}

	threshold := 250.0
	enabled := false
	rec = doRequest(t, router, http.MethodPut, "/api/settings/", models.UpdateMerchantSettingsRequest{
		OTPEnabled:         &enabled,
		OTPAmountThreshold: &threshold,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/settings/", nil)
	decodeBody(t, rec, &settings)
	if settings.OTPEnabled || settings.OTPAmountThreshold != 250 {
		t.Errorf("Expected updated settings, got %+v", settings)
	}
}

func TestSettings_NegativeThresholdRejected(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	threshold := -1.0
	rec := doRequest(t, router, http.MethodPut, "/api/settings/", models.UpdateMerchantSettingsRequest{
		OTPAmountThreshold: &threshold,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestGetDIDDocument(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/.well-known/did.json", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 before bootstrap, got %d", rec.Code)
	}

	h.SetDIDDocument(json.RawMessage(`{"id":"did:web:merchant.example.com"}`))

	rec = doRequest(t, router, http.MethodGet, "/.well-known/did.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 after bootstrap, got %d", rec.Code)
	}
	var doc map[string]interface{}
	decodeBody(t, rec, &doc)
	if doc["id"] != "did:web:merchant.example.com" {
		t.Errorf("Unexpected DID document: %v", doc)
	}
}

func TestHealth(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()
	router := testRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}
