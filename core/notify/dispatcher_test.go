package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
	testutil "github.com/trezcool/gradebook/tests"
)

type staticResolver struct {
	audience Audience
	err      error
}

func (r staticResolver) Recipients(_ context.Context, batchID string) (Audience, error) {
	a := r.audience
	a.BatchID = batchID
	return a, r.err
}

type memRepo struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (r *memRepo) CreateNotifications(_ context.Context, notes []Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, notes...)
	return nil
}

func (r *memRepo) ListNotifications(context.Context, string, int) ([]Notification, error) {
	return nil, nil
}

func (r *memRepo) DeleteOlderThan(context.Context, time.Time) (int, error) { return 0, nil }

type fakePush struct {
	mu      sync.Mutex
	batches [][]string
	failOn  map[string]bool // first token of a chunk
}

func (p *fakePush) SendPush(ctx context.Context, tokens []string, _ Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("push call without timeout")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, tokens)
	if p.failOn[tokens[0]] {
		return errors.New("provider unavailable")
	}
	return nil
}

type fakeEmail struct {
	mu       sync.Mutex
	messages []*core.EmailMessage
	err      error
}

func (s *fakeEmail) SendMessages(_ context.Context, messages ...*core.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messages...)
	return s.err
}

func student(id, number, email, token string) user.User {
	usr := user.NewStudent(number, "First"+number, "Last", email)
	usr.ID = id
	if token != "" {
		usr.PushToken = null.StringFrom(token)
	}
	return usr
}

func TestDispatcher_Dispatch(t *testing.T) {
	users := []user.User{
		student("u1", "S1", "s1@school.test", "tok-1"),
		student("u2", "S2", "s2@students.invalid", "tok-2"),
		student("u3", "S3", "s3@students.invalid", ""), // no contact info at all
		student("u1", "S1", "s1@school.test", "tok-1"), // duplicate enrollment
	}
	repo, push, email := &memRepo{}, &fakePush{}, &fakeEmail{}
	d := NewDispatcher(staticResolver{audience: Audience{ClassName: "Maths", Users: users}}, repo, push, email,
		testutil.NewLogger(), DispatcherOptions{PlaceholderDomain: "students.invalid", EmailEnabled: true})

	err := d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindAdd})

	require.NoError(t, err)
	require.Len(t, repo.notes, 3, "one notification per distinct user, with or without contact info")
	for _, n := range repo.notes {
		assert.Equal(t, "b1", n.BatchID)
		assert.Equal(t, "Quiz1", n.Assessment)
		assert.Equal(t, KindAdd, n.Kind)
		assert.Contains(t, n.Body, "Maths")
		assert.NotEmpty(t, n.ID)
	}
	assert.Equal(t, [][]string{{"tok-1", "tok-2"}}, push.batches)
	require.Len(t, email.messages, 1, "placeholder addresses are never emailed")
	assert.Equal(t, "s1@school.test", email.messages[0].To[0].Address)
	assert.Equal(t, "visibility_changed", email.messages[0].TemplateName)
}

func TestDispatcher_chunksAndFailures(t *testing.T) {
	users := make([]user.User, 0, 1203)
	for i := 0; i < 1203; i++ {
		users = append(users, student(fmt.Sprintf("u%d", i), fmt.Sprintf("S%d", i), "", fmt.Sprintf("tok-%d", i)))
	}
	repo := &memRepo{}
	push := &fakePush{failOn: map[string]bool{"tok-500": true}}
	d := NewDispatcher(staticResolver{audience: Audience{Users: users}}, repo, push, nil,
		testutil.NewLogger(), DispatcherOptions{PushBatchSize: 10000})

	err := d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindRemove})

	var failure *DispatchFailure
	require.True(t, errors.As(err, &failure), "want *DispatchFailure, got %v", err)
	require.Len(t, failure.Failures, 1)
	assert.Equal(t, "push", failure.Failures[0].Channel)
	assert.Equal(t, 500, failure.Failures[0].Recipients)

	assert.Len(t, repo.notes, 1203, "a failing chunk does not affect persistence")
	require.Len(t, push.batches, 3, "batch size is capped at 500")
	sizes := map[int]int{}
	for _, b := range push.batches {
		sizes[len(b)]++
	}
	assert.Equal(t, map[int]int{500: 2, 203: 1}, sizes)
}

func TestDispatcher_persistenceFailureStillPushes(t *testing.T) {
	repo := &memRepo{err: errors.New("db down")}
	push := &fakePush{}
	logger := testutil.NewLogger()
	d := NewDispatcher(staticResolver{audience: Audience{Users: []user.User{student("u1", "S1", "", "tok-1")}}},
		repo, push, nil, logger, DispatcherOptions{})

	err := d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindAdd})

	assert.NoError(t, err)
	assert.Len(t, push.batches, 1)
	assert.Len(t, logger.Entries("error"), 1)
}

func TestDispatcher_resolverError(t *testing.T) {
	push := &fakePush{}
	d := NewDispatcher(staticResolver{err: errors.New("batch not found")}, &memRepo{}, push, nil,
		testutil.NewLogger(), DispatcherOptions{})

	err := d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindAdd})

	assert.Error(t, err)
	assert.Empty(t, push.batches)
}

func TestDispatcher_inactiveUsersGetNoMessages(t *testing.T) {
	usr := student("u1", "S1", "s1@school.test", "tok-1")
	usr.SetActive(false)
	repo, push, email := &memRepo{}, &fakePush{}, &fakeEmail{}
	d := NewDispatcher(staticResolver{audience: Audience{Users: []user.User{usr}}}, repo, push, email,
		testutil.NewLogger(), DispatcherOptions{EmailEnabled: true})

	require.NoError(t, d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindAdd}))

	assert.Len(t, repo.notes, 1)
	assert.Empty(t, push.batches)
	assert.Empty(t, email.messages)
}

func TestDispatcher_emailFailure(t *testing.T) {
	users := []user.User{
		student("u1", "S1", "s1@school.test", ""),
		student("u2", "S2", "s2@school.test", ""),
		student("u3", "S3", "s3@school.test", ""),
	}
	repo := &memRepo{}
	email := &fakeEmail{err: &core.SendError{Failed: 2, Total: 3, Err: context.DeadlineExceeded}}
	d := NewDispatcher(staticResolver{audience: Audience{ClassName: "Maths", Users: users}}, repo, &fakePush{}, email,
		testutil.NewLogger(), DispatcherOptions{PlaceholderDomain: "students.invalid", EmailEnabled: true})

	err := d.Dispatch(context.Background(), Event{Key: quiz1, Kind: KindAdd})

	var failure *DispatchFailure
	require.True(t, errors.As(err, &failure), "want *DispatchFailure, got %v", err)
	require.Len(t, failure.Failures, 1)
	assert.Equal(t, "email", failure.Failures[0].Channel)
	assert.Equal(t, 2, failure.Failures[0].Recipients)
	assert.ErrorIs(t, failure.Failures[0].Err, context.DeadlineExceeded)
	assert.Len(t, email.messages, 3)
	assert.Len(t, repo.notes, 3, "notifications are persisted before any email")
}
