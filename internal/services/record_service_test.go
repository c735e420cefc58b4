package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub-backend/internal/models"
)

func (f *fakeStore) CreateRecord(ctx context.Context, record *models.Record) error {
	f.records[record.ID] = record
	return nil
}

func (f *fakeStore) ListRecordsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error) {
	var out []models.Record
	for _, r := range f.records {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestCreateRecord(t *testing.T) {
	fs := newFakeStore()
	svc := NewRecordService(fs)
	tenantID := uuid.New()

	resp, err := svc.CreateRecord(context.Background(), tenantID, models.CreateRecordRequest{
		Title: "Release notes",
		Body:  "v2 ships monday",
		URL:   "https://app.example.com/records/1",
	})
	require.NoError(t, err)
	assert.Equal(t, tenantID, resp.TenantID)
	assert.Equal(t, "Release notes", resp.Title)
	assert.NotEqual(t, uuid.Nil, resp.ID)
}

func TestCreateRecord_EmptyTitle(t *testing.T) {
	fs := newFakeStore()
	svc := NewRecordService(fs)

	_, err := svc.CreateRecord(context.Background(), uuid.New(), models.CreateRecordRequest{Title: "   "})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, fs.records)
}

func TestGetRecord_TenantScoping(t *testing.T) {
	fs := newFakeStore()
	svc := NewRecordService(fs)
	tenantID := uuid.New()
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Doc"}
	fs.records[record.ID] = record

	got, err := svc.GetRecord(context.Background(), tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = svc.GetRecord(context.Background(), uuid.New(), record.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = svc.GetRecord(context.Background(), tenantID, uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestListRecords(t *testing.T) {
	fs := newFakeStore()
	svc := NewRecordService(fs)
	tenantID := uuid.New()
	fs.records[uuid.New()] = &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "A"}
	fs.records[uuid.New()] = &models.Record{ID: uuid.New(), TenantID: uuid.New(), Title: "other tenant"}

	records, err := svc.ListRecords(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Title)
}