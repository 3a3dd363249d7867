package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
	"github.com/mahaj/dupahar-chat/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	userID  string
	event   model.EventName
	payload model.ReceivePayload
}

type fakeNotifier struct {
	mu     sync.Mutex
	online map[string]bool
	pushes []push
}

func (n *fakeNotifier) Push(userID string, event model.EventName, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[userID] {
		return false
	}
	n.pushes = append(n.pushes, push{userID, event, payload.(model.ReceivePayload)})
	return true
}

func (n *fakeNotifier) sent() []push {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]push(nil), n.pushes...)
}

type recordingJournal struct {
	mu     sync.Mutex
	events []events.Event
}

func (j *recordingJournal) Publish(_ context.Context, ev events.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

// flakyStore fails the first promote of every id.
type flakyStore struct {
	*store.Store
	mu     sync.Mutex
	failed map[string]bool
}

func (f *flakyStore) PromoteScheduled(ctx context.Context, id string) (*model.Message, *model.ScheduledMessage, error) {
	f.mu.Lock()
	if !f.failed[id] {
		f.failed[id] = true
		f.mu.Unlock()
		return nil, nil, errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.Store.PromoteScheduled(ctx, id)
}

// brokenStore always fails to promote the ids in broken.
type brokenStore struct {
	*store.Store
	broken map[string]bool
}

func (b *brokenStore) PromoteScheduled(ctx context.Context, id string) (*model.Message, *model.ScheduledMessage, error) {
	if b.broken[id] {
		return nil, nil, errors.New("constraint violation")
	}
	return b.Store.PromoteScheduled(ctx, id)
}

var ctx = context.Background()

type fixture struct {
	store    *store.Store
	notifier *fakeNotifier
	journal  *recordingJournal
	engine   *Engine
	alice    string
	bob      string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := storetest.New(t)
	alice, err := st.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := st.EnsureUser(ctx, "bob")
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		notifier: &fakeNotifier{online: map[string]bool{}},
		journal:  &recordingJournal{},
		alice:    alice.ID,
		bob:      bob.ID,
	}
	f.engine = New(st, f.notifier, f.journal, logging.Discard(), opts)
	return f
}

// backdate stores a message directly, skipping the future-time check.
func (f *fixture) backdate(t *testing.T, text string, at time.Time) *model.ScheduledMessage {
	t.Helper()
	sm := &model.ScheduledMessage{FromUserID: f.alice, ToUserID: f.bob, Text: text, ScheduledTime: at}
	require.NoError(t, f.store.CreateScheduled(ctx, sm))
	return sm
}

func TestScheduleTimeWindow(t *testing.T) {
	f := newFixture(t, Options{})
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return now }

	cases := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"past", now.Add(-time.Minute), false},
		{"now", now, false},
		{"exactly one second", now.Add(time.Second), false},
		{"just over one second", now.Add(time.Second + time.Millisecond), true},
		{"one hour", now.Add(time.Hour), true},
		{"exactly one year", now.Add(MaxLead), true},
		{"over one year", now.Add(MaxLead + time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, err := f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "hi", At: tc.at})
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, model.StatusPending, sm.Status)
				assert.NotEmpty(t, sm.ID)
				return
			}
			assert.True(t, model.IsValidation(err), "got %v", err)
		})
	}
}

func TestScheduleRequiresFields(t *testing.T) {
	f := newFixture(t, Options{})
	at := time.Now().Add(time.Hour)

	_, err := f.engine.Schedule(ctx, ScheduleRequest{To: f.bob, Text: "hi", At: at})
	assert.True(t, model.IsValidation(err))
	_, err = f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "  ", At: at})
	assert.True(t, model.IsValidation(err))
	_, err = f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "hi"})
	assert.True(t, model.IsValidation(err))
}

func TestSweepPromotesDueMessages(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.online[f.bob] = true
	due := f.backdate(t, "good morning", time.Now().Add(-time.Minute))
	future := f.backdate(t, "not yet", time.Now().Add(time.Hour))

	n, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetScheduled(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.MessageID)

	msg, err := f.store.GetMessage(ctx, *got.MessageID)
	require.NoError(t, err)
	assert.Equal(t, f.alice, msg.SenderID)
	assert.Equal(t, f.bob, msg.RecipientID)
	assert.Equal(t, "good morning", msg.Body.Text)

	pushes := f.notifier.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, f.bob, pushes[0].userID)
	assert.Equal(t, model.EventReceive, pushes[0].event)
	assert.Equal(t, "alice (Scheduled)", pushes[0].payload.SenderName)
	assert.Equal(t, f.alice, pushes[0].payload.From)
	assert.Equal(t, "good morning", pushes[0].payload.Msg)

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, events.KindMessageCreated, f.journal.events[0].Kind)
	assert.True(t, f.journal.events[0].Scheduled)
	assert.Equal(t, msg.ID, f.journal.events[0].MessageID)

	still, err := f.store.GetScheduled(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, still.Status)
}

func TestSweepTwiceDeliversOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.online[f.bob] = true
	f.backdate(t, "once", time.Now().Add(-time.Second))

	n, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs, err := f.store.Conversation(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestConcurrentSweepsDeliverOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.online[f.bob] = true
	for i := 0; i < 5; i++ {
		f.backdate(t, "batch", time.Now().Add(-time.Second))
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Sweep(ctx)
		}()
	}
	wg.Wait()

	msgs, err := f.store.Conversation(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	assert.Len(t, f.notifier.sent(), 5)
}

func TestSweepOfflineRecipientStillPersists(t *testing.T) {
	f := newFixture(t, Options{})
	sm := f.backdate(t, "while you were away", time.Now().Add(-time.Second))

	n, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.notifier.sent())

	got, err := f.store.GetScheduled(ctx, sm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestSweepRetriesAfterStoreFailure(t *testing.T) {
	f := newFixture(t, Options{})
	flaky := &flakyStore{Store: f.store, failed: map[string]bool{}}
	engine := New(flaky, f.notifier, f.journal, logging.Discard(), Options{})
	first := f.backdate(t, "first", time.Now().Add(-2*time.Second))
	second := f.backdate(t, "second", time.Now().Add(-time.Second))

	n, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "both fail once, neither blocks the other")

	for _, id := range []string{first.ID, second.ID} {
		got, err := f.store.GetScheduled(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
	}

	n, err = engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSweepSkipsPastRowsThatKeepFailing(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 2})
	broken := &brokenStore{Store: f.store, broken: map[string]bool{}}
	engine := New(broken, f.notifier, f.journal, logging.Discard(), Options{BatchSize: 2})
	for i := 3; i > 0; i-- {
		sm := f.backdate(t, "stuck", time.Now().Add(-time.Duration(i)*time.Hour))
		broken.broken[sm.ID] = true
	}
	later := f.backdate(t, "behind the stuck ones", time.Now().Add(-time.Minute))

	n, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetScheduled(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)

	n, err = engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "broken rows stay pending and the sweep still ends")
}

func TestSenderLabelFallback(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.online[f.bob] = true
	sm := &model.ScheduledMessage{FromUserID: "ghost", ToUserID: f.bob, Text: "boo", ScheduledTime: time.Now().Add(-time.Second)}
	require.NoError(t, f.store.CreateScheduled(ctx, sm))

	_, err := f.engine.Sweep(ctx)
	require.NoError(t, err)

	pushes := f.notifier.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, "Scheduled Message", pushes[0].payload.SenderName)
}

func TestSendNow(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.online[f.bob] = true
	sm, err := f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "right away", At: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	sent, err := f.engine.SendNow(ctx, sm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.Len(t, f.notifier.sent(), 1)

	_, err = f.engine.SendNow(ctx, sm.ID)
	assert.ErrorIs(t, err, model.ErrNotPending)

	n, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestCancelAndReschedule(t *testing.T) {
	f := newFixture(t, Options{})
	sm, err := f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "maybe", At: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = f.engine.Reschedule(ctx, sm.ID, f.alice, time.Now())
	assert.True(t, model.IsValidation(err))
	_, err = f.engine.Reschedule(ctx, sm.ID, f.bob, time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, model.ErrForbidden)

	moved, err := f.engine.Reschedule(ctx, sm.ID, f.alice, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, moved.Status)

	pending, err := f.engine.Pending(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	assert.ErrorIs(t, f.engine.Cancel(ctx, sm.ID, f.bob), model.ErrForbidden)
	require.NoError(t, f.engine.Cancel(ctx, sm.ID, f.alice))

	pending, err = f.engine.Pending(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.engine.SendNow(ctx, sm.ID)
	assert.ErrorIs(t, err, model.ErrNotPending)
}

func TestCancelAfterSweepReportsNotPending(t *testing.T) {
	f := newFixture(t, Options{})
	sm := f.backdate(t, "too late", time.Now().Add(-time.Second))
	_, err := f.engine.Sweep(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.Cancel(ctx, sm.ID, f.alice), model.ErrNotPending)

	got, err := f.store.GetScheduled(ctx, sm.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestTimerDeliversScheduledMessage(t *testing.T) {
	f := newFixture(t, Options{Interval: time.Second})
	f.notifier.online[f.bob] = true
	sm, err := f.engine.Schedule(ctx, ScheduleRequest{From: f.alice, To: f.bob, Text: "tick tock", At: time.Now().Add(2 * time.Second)})
	require.NoError(t, err)

	require.NoError(t, f.engine.Start())
	assert.Error(t, f.engine.Start())
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		got, err := f.store.GetScheduled(ctx, sm.ID)
		return err == nil && got.Status == model.StatusSent
	}, 6*time.Second, 100*time.Millisecond)

	got, err := f.store.GetScheduled(ctx, sm.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
	msg, err := f.store.GetMessage(ctx, *got.MessageID)
	require.NoError(t, err)
	assert.Equal(t, f.alice, msg.SenderID)
	assert.Equal(t, f.bob, msg.RecipientID)
	assert.Len(t, f.notifier.sent(), 1)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Stop(stopCtx))
	require.NoError(t, f.engine.Stop(stopCtx))
}
