package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"vimani/internal/archivist"
	"vimani/internal/model"
)

type MockArchivist struct {
	mock.Mock
}

func (m *MockArchivist) StoreRun(ctx context.Context, rec model.ArchiveRecord) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

func (m *MockArchivist) FetchRun(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ArchiveRecord), args.Error(1)
}

func (m *MockArchivist) ListRuns(ctx context.Context, limit, offset int) (*archivist.ListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*archivist.ListResult), args.Error(1)
}

func (m *MockArchivist) DeleteRun(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockArchivist) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockArchivist) Close() error {
	args := m.Called()
	return args.Error(0)
}
