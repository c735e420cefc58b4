package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"recordhub-backend/internal/auth"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/services"
	"recordhub-backend/pkg/httputil"
)

// RecordsService defines the interface expected from the record service.
type RecordsService interface {
	CreateRecord(ctx context.Context, tenantID uuid.UUID, req models.CreateRecordRequest) (*models.RecordResponse, error)
	GetRecord(ctx context.Context, tenantID, recordID uuid.UUID) (*models.RecordResponse, error)
	ListRecords(ctx context.Context, tenantID uuid.UUID) ([]models.RecordResponse, error)
}

// RecordNotifier covers the fan-out and connection listing pieces of the
// integration service that record endpoints use.
type RecordNotifier interface {
	HandleRecordChange(ctx context.Context, tenantID, recordID, actorID uuid.UUID, change models.ChangeKind) error
	ListRecordConnections(ctx context.Context, tenantID, recordID uuid.UUID) ([]models.ConnectionResponse, error)
}

type RecordsHandler struct {
	recordService RecordsService
	notifier      RecordNotifier
}

func NewRecordsHandler(recordSvc RecordsService, notifier RecordNotifier) *RecordsHandler {
	return &RecordsHandler{
		recordService: recordSvc,
		notifier:      notifier,
	}
}

func recordIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "recordID"))
}

// HandleCreateRecord handles POST /v1/records
func (h *RecordsHandler) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	var req models.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	record, err := h.recordService.CreateRecord(r.Context(), tenantID, req)
	if err != nil {
		log.Printf("ERROR [RecordsHandler] HandleCreateRecord for tenant %s: %v", tenantID, err)
		if errors.Is(err, services.ErrValidation) {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
		} else {
			httputil.RespondError(w, http.StatusInternalServerError, "Failed to create record")
		}
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, record)
}

// HandleListRecords handles GET /v1/records
func (h *RecordsHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	records, err := h.recordService.ListRecords(r.Context(), tenantID)
	if err != nil {
		log.Printf("ERROR [RecordsHandler] HandleListRecords for tenant %s: %v", tenantID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	if records == nil {
		records = []models.RecordResponse{}
	}
	httputil.RespondJSON(w, http.StatusOK, records)
}

// HandleGetRecord handles GET /v1/records/{recordID}
func (h *RecordsHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid record ID format")
		return
	}

	record, err := h.recordService.GetRecord(r.Context(), tenantID, recordID)
	if err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			httputil.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("ERROR [RecordsHandler] HandleGetRecord for record %s: %v", recordID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to get record")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, record)
}

// HandleListConnections handles GET /v1/records/{recordID}/connections
func (h *RecordsHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid record ID format")
		return
	}

	conns, err := h.notifier.ListRecordConnections(r.Context(), tenantID, recordID)
	if err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			httputil.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("ERROR [RecordsHandler] HandleListConnections for record %s: %v", recordID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to list connections")
		return
	}

	if conns == nil {
		conns = []models.ConnectionResponse{}
	}
	httputil.RespondJSON(w, http.StatusOK, conns)
}

// HandleNotifyChange handles POST /v1/records/{recordID}/notify. The change
// fans out to every active connection; per-destination failures are recorded
// in the audit log and never fail the request.
func (h *RecordsHandler) HandleNotifyChange(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "User ID not found in token context")
		return
	}

	recordID, err := recordIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid record ID format")
		return
	}

	var req models.RecordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	switch req.Change {
	case models.ChangeCreated, models.ChangeUpdated, models.ChangeDeleted:
	default:
		httputil.RespondError(w, http.StatusBadRequest, "Invalid change kind, expected created, updated, or deleted")
		return
	}

	if err := h.notifier.HandleRecordChange(r.Context(), tenantID, recordID, userID, req.Change); err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			httputil.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("ERROR [RecordsHandler] HandleNotifyChange for record %s: %v", recordID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to notify connections")
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}
