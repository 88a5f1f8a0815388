package notify

import (
	"context"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/gradebook/core"
)

// DispatcherOptions tune the fan-out; zero values fall back to the defaults.
type DispatcherOptions struct {
	PlaceholderDomain string
	PushBatchSize     int
	PushConcurrency   int
	PushTimeout       time.Duration
	EmailEnabled      bool
}

// Dispatcher fans one event out to every enrolled user of its batch.
type Dispatcher struct {
	resolver RecipientResolver
	repo     Repository
	push     PushSender
	email    core.EmailService // optional
	logger   core.Logger
	opts     DispatcherOptions
	now      func() time.Time
}

func NewDispatcher(
	resolver RecipientResolver,
	repo Repository,
	push PushSender,
	email core.EmailService,
	logger core.Logger,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.PushBatchSize <= 0 || opts.PushBatchSize > core.MaxPushBatchSize {
		opts.PushBatchSize = core.MaxPushBatchSize
	}
	if opts.PushConcurrency <= 0 {
		opts.PushConcurrency = 4
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 10 * time.Second
	}
	return &Dispatcher{
		resolver: resolver,
		repo:     repo,
		push:     push,
		email:    email,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewConfiguredDispatcher builds a Dispatcher from the notification settings of `conf`.
func NewConfiguredDispatcher(
	conf *core.Config,
	resolver RecipientResolver,
	repo Repository,
	push PushSender,
	email core.EmailService,
	logger core.Logger,
) *Dispatcher {
	return NewDispatcher(resolver, repo, push, email, logger, DispatcherOptions{
		PlaceholderDomain: conf.PlaceholderEmail,
		PushBatchSize:     conf.Notify.PushBatchSize,
		PushConcurrency:   conf.Notify.PushConcurrency,
		PushTimeout:       conf.Notify.PushTimeout,
		EmailEnabled:      conf.Notify.EmailEnabled,
	})
}

// Dispatch records one notification per distinct enrolled user, then pushes to every user
// with a device token and emails users with a real address. It returns once every provider
// call finished or timed out. Provider failures are returned as *DispatchFailure and never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	audience, err := d.resolver.Recipients(ctx, e.BatchID)
	if err != nil {
		return errors.Wrapf(err, "resolving recipients of batch %s", e.BatchID)
	}

	t, b := title(e), body(e, audience.ClassName)
	now := d.now()
	seen := make(map[string]bool, len(audience.Users))
	notes := make([]Notification, 0, len(audience.Users))
	tokens := make([]string, 0, len(audience.Users))
	emails := make([]*core.EmailMessage, 0)
	for _, usr := range audience.Users {
		if seen[usr.ID] {
			continue
		}
		seen[usr.ID] = true

		notes = append(notes, Notification{
			ID:         uuid.NewString(),
			UserID:     usr.ID,
			BatchID:    e.BatchID,
			Assessment: e.Assessment,
			Kind:       e.Kind,
			Title:      t,
			Body:       b,
			CreatedAt:  now,
		})
		if token, ok := usr.DeviceToken(); ok {
			tokens = append(tokens, token)
		}
		if addr, ok := usr.ContactEmail(d.opts.PlaceholderDomain); ok && d.opts.EmailEnabled && d.email != nil {
			emails = append(emails, &core.EmailMessage{
				To:           []mail.Address{{Name: usr.FullName(), Address: addr}},
				Subject:      t,
				TemplateName: "visibility_changed",
				TemplateData: map[string]interface{}{
					"Name":       usr.FullName(),
					"Assessment": e.Assessment,
					"ClassName":  audience.ClassName,
					"Visible":    e.Kind == KindAdd,
				},
			})
		}
	}
	if len(notes) == 0 {
		return nil
	}

	if err := d.repo.CreateNotifications(ctx, notes); err != nil {
		// pushing still goes ahead: the log is best-effort like the messages
		d.logger.Error("persisting notifications", err,
			map[string]interface{}{"batch_id": e.BatchID, "assessment": e.Assessment, "count": len(notes)})
	}

	failure := &DispatchFailure{Event: e}
	d.sendPush(ctx, tokens, Message{
		Title: t,
		Body:  b,
		Data:  map[string]string{"batch_id": e.BatchID, "assessment": e.Assessment, "kind": string(e.Kind)},
	}, failure)

	if len(emails) > 0 {
		if err := d.email.SendMessages(ctx, emails...); err != nil {
			failed := len(emails)
			var sendErr *core.SendError
			if errors.As(err, &sendErr) {
				failed = sendErr.Failed
			}
			failure.Failures = append(failure.Failures, ChannelFailure{Channel: "email", Recipients: failed, Err: err})
		}
	}

	if len(failure.Failures) > 0 {
		return failure
	}
	return nil
}

// sendPush sends one provider call per chunk of tokens, a bounded number at a time.
func (d *Dispatcher) sendPush(ctx context.Context, tokens []string, msg Message, failure *DispatchFailure) {
	if d.push == nil || len(tokens) == 0 {
		return
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.opts.PushConcurrency)
	for _, chunk := range core.Chunk(tokens, d.opts.PushBatchSize) {
		chunk := chunk
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.opts.PushTimeout)
			defer cancel()
			if err := d.push.SendPush(cctx, chunk, msg); err != nil {
				mu.Lock()
				failure.Failures = append(failure.Failures, ChannelFailure{Channel: "push", Recipients: len(chunk), Err: err})
				mu.Unlock()
			}
			return nil // one failed chunk must not cancel the others
		})
	}
	_ = g.Wait()
}
