// Package notify coalesces visibility changes and fans them out to enrolled students.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/gradebook/core/user"
)

// Kind is the direction of a visibility change.
type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
)

func (k Kind) Valid() bool { return k == KindAdd || k == KindRemove }

// Key identifies one debounced stream of events.
type Key struct {
	BatchID    string `json:"batch_id"`
	Assessment string `json:"assessment"`
}

func (k Key) String() string { return k.BatchID + "/" + k.Assessment }

// Event is a visibility change of one assessment of a batch. Events are never persisted.
type Event struct {
	Key
	Kind Kind `json:"kind"`
}

// Notification is the persisted log entry of one user being told about an event.
type Notification struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	BatchID    string    `json:"batch_id" db:"batch_id"`
	Assessment string    `json:"assessment" db:"assessment"`
	Kind       Kind      `json:"kind" db:"kind"`
	Title      string    `json:"title" db:"title"`
	Body       string    `json:"body" db:"body"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Repository persists notifications.
type Repository interface {
	CreateNotifications(ctx context.Context, notes []Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int, error)
}

// Audience is who hears about changes to a batch.
type Audience struct {
	BatchID   string
	ClassName string
	Users     []user.User
}

// RecipientResolver resolves the enrolled users of a batch.
type RecipientResolver interface {
	Recipients(ctx context.Context, batchID string) (Audience, error)
}

// Message is an outbound push notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushSender delivers one message to many device tokens in a single provider call.
type PushSender interface {
	SendPush(ctx context.Context, tokens []string, msg Message) error
}

// ChannelFailure is one failed provider call.
type ChannelFailure struct {
	Channel    string // "push" or "email"
	Recipients int
	Err        error
}

// DispatchFailure collects the provider errors of one fan-out. Notifications were persisted regardless.
type DispatchFailure struct {
	Event    Event
	Failures []ChannelFailure
}

func (e *DispatchFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s to %d recipient(s): %v", f.Channel, f.Recipients, f.Err))
	}
	return fmt.Sprintf("dispatching %s %s: %s", e.Event.Kind, e.Event.Key, strings.Join(parts, "; "))
}

func title(e Event) string {
	if e.Kind == KindRemove {
		return "Grades hidden"
	}
	return "New grades available"
}

func body(e Event, className string) string {
	if className == "" {
		className = "your class"
	}
	if e.Kind == KindRemove {
		return fmt.Sprintf("%s grades of %s are no longer visible.", e.Assessment, className)
	}
	return fmt.Sprintf("%s grades of %s are now visible.", e.Assessment, className)
}
