package handler

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var successTemplate = template.Must(template.ParseFS(templateFS, "templates/success.html"))

type ProductLister interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type HTTPHandler struct {
	products   ProductLister
	catalog    service.Catalog
	checkout   *service.CheckoutService
	settlement *service.SettlementService
	urls       domain.CheckoutURLs
}

type CheckoutHTTPRequest struct {
	Items []domain.CartItem `json:"items"`
}

type CheckoutHTTPResponse struct {
	URL string `json:"url"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type successLine struct {
	Name     string
	Quantity int
}

type successPage struct {
	SettlementID   string
	AlreadySettled bool
	Items          []successLine
}

func NewHTTPHandler(
	products ProductLister,
	catalog service.Catalog,
	checkout *service.CheckoutService,
	settlement *service.SettlementService,
	urls domain.CheckoutURLs,
) *HTTPHandler {
	return &HTTPHandler{
		products:   products,
		catalog:    catalog,
		checkout:   checkout,
		settlement: settlement,
		urls:       urls,
	}
}

// Router wires the storefront routes. metricsHandler is mounted on /metrics
// when non-nil.
func (h *HTTPHandler) Router(middleware []mux.MiddlewareFunc, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware...)

	r.HandleFunc("/productstest", h.ListProducts).Methods(http.MethodGet)
	r.HandleFunc("/create-checkout-session", h.CreateCheckoutSession).Methods(http.MethodPost)
	r.HandleFunc("/success.html", h.Success).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}

// ListProducts serves the catalog straight from the store.
func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("list_products_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "Internal Server Error"})
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error: "invalid request body",
			Code:  "INVALID_CART",
		})
		return
	}

	session, err := h.checkout.CreateCheckout(r.Context(), req.Items, h.urls)
	if err != nil {
		writeJSON(w, checkoutStatus(err), ErrorHTTPResponse{
			Error: publicMessage(err),
			Code:  errorCode(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{URL: session.RedirectURL})
}

// Success is where the payment provider sends the shopper back. It settles
// the purchase recorded in the query string and renders the confirmation.
func (h *HTTPHandler) Success(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	items, err := domain.DecodeCart(query.Get("items"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: publicMessage(err), Code: errorCode(err)})
		return
	}

	sessionID := query.Get("session_id")
	if sessionID == domain.SessionIDPlaceholder {
		sessionID = ""
	}

	result, err := h.settlement.Settle(r.Context(), sessionID, items)
	if err != nil {
		writeJSON(w, settlementStatus(err), ErrorHTTPResponse{Error: publicMessage(err), Code: errorCode(err)})
		return
	}

	page := successPage{
		SettlementID:   result.SettlementID,
		AlreadySettled: result.AlreadySettled,
	}
	for _, item := range result.Items {
		name := "product"
		if p, ok := h.catalog.Get(item.ProductID); ok {
			name = p.Name
		}
		page.Items = append(page.Items, successLine{Name: name, Quantity: item.Quantity})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := successTemplate.Execute(w, page); err != nil {
		logging.FromContext(r.Context()).Error("success_render_failed", zap.Error(err))
	}
}

// catalogStats is implemented by the catalog cache.
type catalogStats interface {
	Len() int
	LoadedAt() time.Time
}

type HealthHTTPResponse struct {
	Status          string     `json:"status"`
	CatalogProducts int        `json:"catalog_products"`
	CatalogLoadedAt *time.Time `json:"catalog_loaded_at,omitempty"`
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthHTTPResponse{Status: "ok"}
	if stats, ok := h.catalog.(catalogStats); ok {
		resp.CatalogProducts = stats.Len()
		if loadedAt := stats.LoadedAt(); !loadedAt.IsZero() {
			resp.CatalogLoadedAt = &loadedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
