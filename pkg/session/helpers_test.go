package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"tgw_go/models"
)

type fakeTransport struct {
	accountID string
	sink      EventSink

	mu         sync.Mutex
	startErr   error
	startGate  chan struct{}
	sendErr    error
	logoutGate chan struct{}
	logoutSeen chan struct{}
	notReady   int
	groups     []models.Group
	starts     int
	sends      int
	logouts    int
	closes     int
	started    bool
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	gate := f.startGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeTransport) Send(ctx context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return f.sendErr
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logouts++
	gate, seen := f.logoutGate, f.logoutSeen
	f.mu.Unlock()
	if seen != nil {
		close(seen)
	}
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) CheckNumbers(ctx context.Context, numbers []string) ([]models.NumberCheck, error) {
	out := make([]models.NumberCheck, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, models.NumberCheck{Input: n, Valid: true, Formatted: n})
	}
	return out, nil
}

func (f *fakeTransport) Groups(ctx context.Context) ([]models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notReady > 0 {
		f.notReady--
		return nil, ErrNotReady
	}
	return f.groups, nil
}

func (f *fakeTransport) GroupParticipants(ctx context.Context, groupID string) ([]models.Participant, error) {
	return []models.Participant{{ID: "1", User: "1", IsAdmin: true, IsSuperAdmin: true}}, nil
}

func (f *fakeTransport) emit(ev Event) { f.sink(ev) }

func (f *fakeTransport) counts() (sends, logouts, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends, f.logouts, f.closes
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	configure  func(*fakeTransport)
}

func (f *fakeFactory) New(accountID string, sink EventSink) (Transport, error) {
	tr := &fakeTransport{accountID: accountID, sink: sink}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configure != nil {
		f.configure(tr)
	}
	f.transports = append(f.transports, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[len(f.transports)-1]
}

type fakeCreds struct {
	mu      sync.Mutex
	ids     []string
	deleted map[string]int
}

func (c *fakeCreds) List() ([]string, error) { return c.ids, nil }

func (c *fakeCreds) Delete(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted == nil {
		c.deleted = make(map[string]int)
	}
	c.deleted[accountID]++
	return nil
}

func (c *fakeCreds) deletes(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted[accountID]
}

type notification struct {
	accountID string
	status    NotifyStatus
	phone     string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notification
	panic bool
}

func (n *fakeNotifier) Notify(accountID string, status NotifyStatus, phone string) {
	if n.panic {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{accountID, status, phone})
}

func (n *fakeNotifier) count(status NotifyStatus) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.status == status {
			c++
		}
	}
	return c
}

type harness struct {
	m        *Manager
	factory  *fakeFactory
	creds    *fakeCreds
	notifier *fakeNotifier
}

func testOptions() Options {
	return Options{
		ReconnectDelay: 30 * time.Millisecond,
		LogoutTimeout:  time.Second,
		ReleaseTimeout: time.Second,
		LookupAttempts: 3,
		LookupDelay:    5 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{},
		creds:    &fakeCreds{},
		notifier: &fakeNotifier{},
	}
	h.m = NewManager(opts, h.factory, h.creds, h.notifier, zaptest.NewLogger(t))
	t.Cleanup(func() { h.m.supervisor.Stop() })
	return h
}
