package dsr_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type mockPatientDirectory struct {
	mock.Mock
}

func (m *mockPatientDirectory) Exists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	args := m.Called(ctx, patientID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPatientDirectory) GetFullName(ctx context.Context, patientID uuid.UUID) (string, error) {
	args := m.Called(ctx, patientID)
	return args.String(0), args.Error(1)
}

type mockLegalHoldChecker struct {
	mock.Mock
}

func (m *mockLegalHoldChecker) HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Bool(0), args.Error(1)
}

type mockErasureGateway struct {
	mock.Mock
}

func (m *mockErasureGateway) Erase(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Error(0)
}

func (m *mockErasureGateway) Anonymize(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Error(0)
}

type mockActivityRegistry struct {
	mock.Mock
}

func (m *mockActivityRegistry) Suspend(ctx context.Context, patientID uuid.UUID, purpose string) error {
	args := m.Called(ctx, patientID, purpose)
	return args.Error(0)
}

type mockPatientRecordService struct {
	mock.Mock
}

func (m *mockPatientRecordService) Snapshot(ctx context.Context, patientID uuid.UUID, categories []string) (map[string]interface{}, error) {
	args := m.Called(ctx, patientID, categories)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *mockPatientRecordService) Rectify(ctx context.Context, patientID uuid.UUID, fields []string, note string) error {
	args := m.Called(ctx, patientID, fields, note)
	return args.Error(0)
}

type mockRestrictionStore struct {
	mock.Mock
}

func (m *mockRestrictionStore) SetRestriction(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Error(0)
}

func (m *mockRestrictionStore) IsRestricted(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Bool(0), args.Error(1)
}
