package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
)

const (
	DefaultReconnectInitial = 2 * time.Second
	DefaultReconnectMax     = time.Minute

	backoffFactor = 1.5

	// stateQueueSize bounds state changes waiting for observers.
	stateQueueSize = 64

	// connectConcurrency limits simultaneous connects in ConnectAll; BLE
	// bridges handle few concurrent link setups.
	connectConcurrency = 4

	// settlePoll is how long the supervisor waits for a member that is
	// mid-connect on another goroutine.
	settlePoll = 100 * time.Millisecond
)

var (
	// ErrNotFound is returned for names that are not fleet members.
	ErrNotFound = errors.New("fleet: toy not found")

	// ErrExists is returned by Add for a name already in the fleet.
	ErrExists = errors.New("fleet: toy already exists")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("fleet: closed")
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry describes one member.
type Entry struct {
	Name        string       `json:"name"`
	Kind        command.Kind `json:"kind"`
	Address     string       `json:"address"`
	AutoConnect bool         `json:"auto_connect"`
}

// StateChange is delivered to observers.
type StateChange struct {
	Toy   string
	Kind  command.Kind
	State toy.State
	Cause error
	At    time.Time
}

// Observer receives state changes in order.
type Observer func(StateChange)

// Option configures a Fleet.
type Option func(*Fleet)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(f *Fleet) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(f *Fleet) {
		if initial > 0 {
			f.initial = initial
		}
		if maxDelay >= f.initial {
			f.max = maxDelay
		}
	}
}

// WithToyOptions adds options applied to every toy the fleet creates.
func WithToyOptions(opts ...toy.Option) Option {
	return func(f *Fleet) { f.toyOpts = append(f.toyOpts, opts...) }
}

type member struct {
	entry Entry
	toy   *toy.Toy

	mu     sync.Mutex
	wanted bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func (m *member) setWanted(v bool) {
	m.mu.Lock()
	m.wanted = v
	m.mu.Unlock()
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *member) isWanted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wanted
}

// Fleet owns a set of toys sharing one transport adapter.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Fleet struct {
	adapter transport.Adapter
	logger  Logger
	initial time.Duration
	max     time.Duration
	toyOpts []toy.Option

	mu        sync.RWMutex
	members   map[string]*member
	observers []Observer
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc

	events eventHub

	states chan StateChange
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New creates an empty fleet. Call Close to stop supervisors.
func New(adapter transport.Adapter, opts ...Option) *Fleet {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fleet{
		adapter: adapter,
		logger:  noopLogger{},
		initial: DefaultReconnectInitial,
		max:     DefaultReconnectMax,
		members: make(map[string]*member),
		ctx:     ctx,
		cancel:  cancel,
		states:  make(chan StateChange, stateQueueSize),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.wg.Add(1)
	go f.notifyLoop()
	return f
}

// Observe registers fn for every member's state changes.
func (f *Fleet) Observe(fn Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

// Add creates a member and starts its supervisor. Members with AutoConnect
// start connecting immediately.
func (f *Fleet) Add(e Entry) (*toy.Toy, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("fleet: empty toy name")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if _, ok := f.members[e.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, e.Name)
	}

	kind := e.Kind
	opts := append(slices.Clone(f.toyOpts), toy.WithStateFunc(func(name string, state toy.State, cause error) {
		f.onState(name, kind, state, cause)
	}))
	t, err := toy.New(e.Kind, e.Name, e.Address, f.adapter, opts...)
	if err != nil {
		return nil, err
	}
	name := e.Name
	if _, err := t.ListenAll(func(ev notify.Event) { f.emit(name, ev) }); err != nil {
		t.Close() //nolint:errcheck // never connected
		return nil, fmt.Errorf("registering event listeners: %w", err)
	}

	m := &member{
		entry:  e,
		toy:    t,
		wanted: e.AutoConnect,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	f.members[e.Name] = m

	f.wg.Add(1)
	go f.supervise(m)

	f.logger.Info("toy added to fleet", "toy", e.Name, "kind", e.Kind.String(), "auto_connect", e.AutoConnect)
	return t, nil
}

// Remove stops supervising a member and closes its toy.
func (f *Fleet) Remove(name string) error {
	f.mu.Lock()
	m, ok := f.members[name]
	if ok {
		delete(f.members, name)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	close(m.stop)
	<-m.done
	f.logger.Info("toy removed from fleet", "toy", name)
	return m.toy.Close()
}

// Get returns a member's toy.
func (f *Fleet) Get(name string) (*toy.Toy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.toy, nil
}

// Entry returns a member's description.
func (f *Fleet) Entry(name string) (Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.entry, nil
}

// Kind reports the kind of a member.
func (f *Fleet) Kind(name string) (command.Kind, bool) {
	e, err := f.Entry(name)
	if err != nil {
		return command.KindUnknown, false
	}
	return e.Kind, true
}

// List returns every member's toy sorted by name.
func (f *Fleet) List() []*toy.Toy {
	f.mu.RLock()
	toys := make([]*toy.Toy, 0, len(f.members))
	for _, m := range f.members {
		toys = append(toys, m.toy)
	}
	f.mu.RUnlock()

	slices.SortFunc(toys, func(a, b *toy.Toy) int { return strings.Compare(a.Name(), b.Name()) })
	return toys
}

// Connect marks a member wanted online and connects it now, returning the
// connect error. The supervisor keeps retrying after a failure.
func (f *Fleet) Connect(ctx context.Context, name string) error {
	m, err := f.member(name)
	if err != nil {
		return err
	}
	m.setWanted(true)

	err = m.toy.Connect(ctx)
	if errors.Is(err, toy.ErrAlreadyConnected) {
		return nil
	}
	return err
}

// Disconnect takes a member offline until Connect is called again.
func (f *Fleet) Disconnect(name string) error {
	m, err := f.member(name)
	if err != nil {
		return err
	}
	m.setWanted(false)
	return m.toy.Disconnect()
}

// ConnectAll connects every wanted member concurrently and returns the
// joined errors of those that failed. Failed members keep being retried
// by their supervisors.
func (f *Fleet) ConnectAll(ctx context.Context) error {
	f.mu.RLock()
	var wanted []*member
	for _, m := range f.members {
		if m.isWanted() {
			wanted = append(wanted, m)
		}
	}
	f.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(connectConcurrency)
	for _, m := range wanted {
		g.Go(func() error {
			err := m.toy.Connect(ctx)
			if err != nil && !errors.Is(err, toy.ErrAlreadyConnected) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", m.entry.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines collect into errs
	return errors.Join(errs...)
}

// Close stops every supervisor and closes every toy.
func (f *Fleet) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	members := make([]*member, 0, len(f.members))
	for _, m := range f.members {
		members = append(members, m)
	}
	f.mu.Unlock()

	f.cancel()
	var errs []error
	for _, m := range members {
		<-m.done
		if err := m.toy.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	// Toys are closed, so nothing sends on states any more.
	close(f.quit)
	f.wg.Wait()
	return errors.Join(errs...)
}

func (f *Fleet) member(name string) (*member, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m, nil
}

// onState backs every toy's StateFunc. It runs under the toy's lock, so it
// only queues.
func (f *Fleet) onState(name string, kind command.Kind, state toy.State, cause error) {
	select {
	case f.states <- StateChange{Toy: name, Kind: kind, State: state, Cause: cause, At: time.Now()}:
	default:
		f.logger.Warn("state change queue full, dropping", "toy", name, "state", state.String())
	}
}

func (f *Fleet) notifyLoop() {
	defer f.wg.Done()
	for {
		select {
		case sc := <-f.states:
			f.deliver(sc)
		case <-f.quit:
			for {
				select {
				case sc := <-f.states:
					f.deliver(sc)
				default:
					return
				}
			}
		}
	}
}

func (f *Fleet) deliver(sc StateChange) {
	f.mu.RLock()
	observers := slices.Clone(f.observers)
	f.mu.RUnlock()
	for _, fn := range observers {
		f.safeObserve(fn, sc)
	}
}

func (f *Fleet) safeObserve(fn Observer, sc StateChange) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("state observer panic", "toy", sc.Toy, "panic", fmt.Sprint(r))
		}
	}()
	fn(sc)
}

// nextBackoff grows d by backoffFactor up to maxDelay.
func nextBackoff(d, maxDelay time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > maxDelay {
		return maxDelay
	}
	return next
}
