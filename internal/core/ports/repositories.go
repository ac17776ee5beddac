package ports

import (
	"context"

	"callcore/internal/core/domain"
)

type CallHistoryRepository interface {
	Save(ctx context.Context, record *domain.CallRecord) error
	Get(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error)
	List(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}
