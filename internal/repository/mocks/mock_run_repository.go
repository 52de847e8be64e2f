package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"vimani/internal/model"
	"vimani/internal/repository"
)

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, rec *model.ArchiveRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRunRepository) FindByRef(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ArchiveRecord), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.ArchiveRecord], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.ArchiveRecord]), args.Error(1)
}

func (m *MockRunRepository) Delete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockRunRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
