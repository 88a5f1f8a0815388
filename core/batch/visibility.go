package batch

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/notify"
)

// Scheduler receives the visibility changes to notify about.
type Scheduler interface {
	Schedule(e notify.Event)
}

// Visibility controls which assessments of a batch students may see.
// Every change is handed to the Scheduler once committed.
type Visibility struct {
	store     TxStore
	scheduler Scheduler
	now       func() time.Time
}

func NewVisibility(store TxStore, scheduler Scheduler) *Visibility {
	return &Visibility{
		store:     store,
		scheduler: scheduler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetVisible makes exactly `names` visible. One event is emitted per assessment whose
// visibility changed.
func (v *Visibility) SetVisible(ctx context.Context, batchID string, names []string) (Batch, error) {
	var (
		saved  Batch
		events []notify.Event
	)
	err := v.store.WithinTx(ctx, func(store Store) error {
		b, err := store.Batches().GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if err := checkNames(b, names...); err != nil {
			return err
		}

		want := make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
		for _, name := range b.Maxima.Names() {
			switch {
			case want[name] && !b.Visible[name]:
				events = append(events, notify.Event{Key: notify.Key{BatchID: b.ID, Assessment: name}, Kind: notify.KindAdd})
			case !want[name] && b.Visible[name]:
				events = append(events, notify.Event{Key: notify.Key{BatchID: b.ID, Assessment: name}, Kind: notify.KindRemove})
			}
		}
		if len(events) == 0 {
			saved = b
			return nil
		}

		b.Visible = want
		b.UpdatedAt = v.now()
		saved, err = store.Batches().UpdateBatch(ctx, b)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	v.emit(events...)
	return saved, nil
}

// Toggle flips the visibility of one assessment and returns whether it is now visible.
func (v *Visibility) Toggle(ctx context.Context, batchID, name string) (Batch, bool, error) {
	var (
		saved   Batch
		visible bool
	)
	err := v.store.WithinTx(ctx, func(store Store) error {
		b, err := store.Batches().GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if err := checkNames(b, name); err != nil {
			return err
		}

		visible = !b.Visible[name]
		if b.Visible == nil {
			b.Visible = map[string]bool{}
		}
		if visible {
			b.Visible[name] = true
		} else {
			delete(b.Visible, name)
		}
		b.UpdatedAt = v.now()
		saved, err = store.Batches().UpdateBatch(ctx, b)
		return err
	})
	if err != nil {
		return Batch{}, false, err
	}

	kind := notify.KindRemove
	if visible {
		kind = notify.KindAdd
	}
	v.emit(notify.Event{Key: notify.Key{BatchID: batchID, Assessment: name}, Kind: kind})
	return saved, visible, nil
}

func (v *Visibility) emit(events ...notify.Event) {
	for _, e := range events {
		v.scheduler.Schedule(e)
	}
}

// checkNames fails with a *VisibilityError when any name has no maximum in the batch.
func checkNames(b Batch, names ...string) error {
	var unknown []string
	suggestions := make(map[string]string)
	for _, n := range names {
		if b.Maxima.Has(n) {
			continue
		}
		unknown = append(unknown, n)
		if s := grade.Suggest(n, b.Maxima.Names()); s != "" {
			suggestions[n] = s
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &VisibilityError{BatchID: b.ID, Unknown: unknown, Suggestions: suggestions}
}

// removedEvents builds the remove events of assessments that lost their visibility.
func removedEvents(batchID string, names []string) []notify.Event {
	events := make([]notify.Event, 0, len(names))
	for _, n := range names {
		events = append(events, notify.Event{Key: notify.Key{BatchID: batchID, Assessment: n}, Kind: notify.KindRemove})
	}
	return events
}
