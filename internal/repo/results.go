package repo

import (
	"context"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

// ResultRepository stores the delivery outcome of each contact per job.
type ResultRepository interface {
	RecordResult(ctx context.Context, jobID string, c model.Contact) error
	ListResults(ctx context.Context, jobID string, status model.Status, limit, offset int) ([]model.Contact, error)
}
