package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"

	"github.com/google/uuid"
)

// RecordService manages tenant records.
type RecordService interface {
	CreateRecord(ctx context.Context, tenantID uuid.UUID, req models.CreateRecordRequest) (*models.RecordResponse, error)
	GetRecord(ctx context.Context, tenantID, recordID uuid.UUID) (*models.RecordResponse, error)
	ListRecords(ctx context.Context, tenantID uuid.UUID) ([]models.RecordResponse, error)
}

type recordService struct {
	store store.Store
}

// NewRecordService creates a new RecordService.
func NewRecordService(s store.Store) RecordService {
	return &recordService{store: s}
}

func mapRecordToResponse(r *models.Record) *models.RecordResponse {
	return &models.RecordResponse{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Title:     r.Title,
		Body:      r.Body,
		URL:       r.URL,
		CreatedAt: r.CreatedAt,
	}
}

func (s *recordService) CreateRecord(ctx context.Context, tenantID uuid.UUID, req models.CreateRecordRequest) (*models.RecordResponse, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}

	record := &models.Record{
		ID:       uuid.New(),
		TenantID: tenantID,
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.URL,
	}
	if err := s.store.CreateRecord(ctx, record); err != nil {
		log.Printf("ERROR [RecordService] CreateRecord: Store call failed for tenant %s: %v", tenantID, err)
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	log.Printf("[RecordService] CreateRecord: Created record %s for tenant %s", record.ID, tenantID)
	return mapRecordToResponse(record), nil
}

func (s *recordService) GetRecord(ctx context.Context, tenantID, recordID uuid.UUID) (*models.RecordResponse, error) {
	record, err := s.store.GetRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		log.Printf("ERROR [RecordService] GetRecord: Store call failed for ID %s: %v", recordID, err)
		return nil, fmt.Errorf("failed to retrieve record: %w", err)
	}
	if record.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}
	return mapRecordToResponse(record), nil
}

func (s *recordService) ListRecords(ctx context.Context, tenantID uuid.UUID) ([]models.RecordResponse, error) {
	records, err := s.store.ListRecordsByTenant(ctx, tenantID)
	if err != nil {
		log.Printf("ERROR [RecordService] ListRecords: Store call failed for tenant %s: %v", tenantID, err)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	resp := make([]models.RecordResponse, len(records))
	for i := range records {
		resp[i] = *mapRecordToResponse(&records[i])
	}
	return resp, nil
}
