package cache

import (
	"context"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

// StatusCache keeps the latest delivery state of each contact of a job.
type StatusCache interface {
	StoreStatus(ctx context.Context, jobID string, c model.Contact) error
	// LoadStatus returns ErrMiss when nothing is stored for the contact.
	LoadStatus(ctx context.Context, jobID string, contactID int64) (model.Contact, error)
}
