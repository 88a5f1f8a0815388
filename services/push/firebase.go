// Package pushsvc delivers push notifications to student devices.
package pushsvc

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/notify"
)

// multicaster is the part of *messaging.Client the sender uses.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type firebaseSender struct {
	client multicaster
	logger core.Logger
}

var _ notify.PushSender = (*firebaseSender)(nil)

// NewFirebaseSender authenticates with the service account file of the Notify config.
func NewFirebaseSender(ctx context.Context, conf *core.Config, logger core.Logger) (notify.PushSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(conf.Notify.FirebaseCredentials))
	if err != nil {
		return nil, errors.Wrap(err, "initializing firebase")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initializing firebase messaging")
	}
	return &firebaseSender{client: client, logger: logger}, nil
}

// SendPush sends one multicast message. It fails when any token could not be reached.
func (s *firebaseSender) SendPush(ctx context.Context, tokens []string, msg notify.Message) error {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) > core.MaxPushBatchSize {
		return fmt.Errorf("%d tokens exceed the multicast limit of %d", len(tokens), core.MaxPushBatchSize)
	}

	res, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         msg.Data,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
	})
	if err != nil {
		return errors.Wrap(err, "sending multicast")
	}
	if res.FailureCount == 0 {
		return nil
	}

	var (
		unregistered int
		firstErr     error
	)
	for _, r := range res.Responses {
		if r == nil || r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) {
			unregistered++
			continue
		}
		if firstErr == nil {
			firstErr = r.Error
		}
	}
	if unregistered > 0 {
		s.logger.Info("push tokens no longer registered", map[string]interface{}{"count": unregistered})
	}
	if firstErr == nil {
		return nil
	}
	return errors.Wrapf(firstErr, "%d of %d push deliveries failed", res.FailureCount-unregistered, len(tokens))
}
