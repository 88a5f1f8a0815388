package batch

import (
	"context"

	"github.com/trezcool/gradebook/core/notify"
)

type recipientResolver struct {
	store TxStore
}

// NewRecipientResolver resolves notification audiences from the enrollment of batches.
func NewRecipientResolver(store TxStore) notify.RecipientResolver {
	return &recipientResolver{store: store}
}

func (r *recipientResolver) Recipients(ctx context.Context, batchID string) (notify.Audience, error) {
	audience := notify.Audience{BatchID: batchID}
	err := r.store.View(ctx, func(store Store) error {
		b, err := store.Batches().GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		class, err := store.Classes().GetClass(ctx, b.ClassID)
		if err != nil {
			return err
		}
		audience.ClassName = class.Name
		audience.Users, err = store.Users().GetUsersByID(ctx, b.StudentIDs)
		return err
	})
	return audience, err
}
