/**
 * @description
 * HTTP handlers for the deal service. Handlers decode the request, call the
 * application service and translate its errors into status codes.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/internal/store"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

// Service is the subset of app.DealService the handlers depend on.
type Service interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateDeal(ctx context.Context, in app.CreateDealInput) (*app.CreateDealResult, error)
	AssignDeal(ctx context.Context, dealID int64) (*domain.Deal, error)
	PushDeal(ctx context.Context, dealID int64) (*domain.Deal, *crmclient.RecordResponse, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type createDealRequest struct {
	Deal struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	} `json:"deal"`
	Customer app.CustomerInput `json:"customer"`
}

type dealResponse struct {
	OK          bool                      `json:"ok"`
	Message     string                    `json:"message,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Deal        *domain.Deal              `json:"deal,omitempty"`
	Customer    *domain.Customer          `json:"customer,omitempty"`
	CRMResponse *crmclient.RecordResponse `json:"crm_response,omitempty"`
}

type errorResponse struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"data": customers,
	})
}

// handleCreateDeal creates a deal, assigns a manager and, in inline mode,
// pushes it to the CRM. When the push fails the deal is still returned.
func (h *Handler) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateDeal(r.Context(), app.CreateDealInput{
		Name:     req.Deal.Name,
		Source:   req.Deal.Source,
		Customer: req.Customer,
	})
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			respondWithJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Message: "The given data was invalid.",
				Errors:  verr.Fields,
			})
			return
		}
		if result == nil {
			respondWithError(w, statusFor(err), err.Error())
			return
		}
		respondWithJSON(w, statusFor(err), dealResponse{
			Message:     "Deal created, but could not be completed",
			Error:       err.Error(),
			Deal:        result.Deal,
			Customer:    result.Customer,
			CRMResponse: result.CRMResponse,
		})
		return
	}

	respondWithJSON(w, http.StatusCreated, dealResponse{
		OK:          true,
		Message:     "Deal created",
		Deal:        result.Deal,
		Customer:    result.Customer,
		CRMResponse: result.CRMResponse,
	})
}

func (h *Handler) handleAssignDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := dealIDParam(w, r)
	if !ok {
		return
	}
	deal, err := h.service.AssignDeal(r.Context(), id)
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, dealResponse{OK: true, Deal: deal})
}

func (h *Handler) handlePushDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := dealIDParam(w, r)
	if !ok {
		return
	}
	deal, resp, err := h.service.PushDeal(r.Context(), id)
	if err != nil {
		respondWithJSON(w, statusFor(err), dealResponse{
			Error:       err.Error(),
			Deal:        deal,
			CRMResponse: resp,
		})
		return
	}
	respondWithJSON(w, http.StatusOK, dealResponse{OK: true, Message: "Deal pushed", Deal: deal, CRMResponse: resp})
}

func dealIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid deal id")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrDealNotFound), errors.Is(err, store.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNoEligibleManager):
		return http.StatusConflict
	case errors.Is(err, app.ErrCRMSync):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Message: message})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
