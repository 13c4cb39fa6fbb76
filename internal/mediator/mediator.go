package mediator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/famkit/famsync"
)

var tracer = otel.Tracer("mediator")

// StateAccessor reads the container's current state. A nil result means no
// family is registered.
type StateAccessor func() *famsync.FamilyState

// Dispatcher feeds an outbound action back into the container.
type Dispatcher func(famsync.Action)

// Options tunes mediator behavior.
type Options struct {
	// Resubscribe re-establishes the change listener with exponential backoff
	// when the stream terminates. Off by default: listener streams are treated
	// as infinite and termination only logged.
	Resubscribe bool

	Logger *slog.Logger
}

// Mediator translates inbound container actions into storage operations and
// storage change events into outbound actions. It holds exactly one reusable
// slot for the in-flight create/update/delete operation; starting a new
// operation cancels and detaches whatever occupied the slot before.
//
// The container must call BeforeReduce strictly before reducing an action and
// AfterReduce strictly after, serialized per action. AfterReduce effects read
// state the reducer may have just produced for the very same action.
type Mediator struct {
	storage     Storage
	state       StateAccessor
	dispatch    Dispatcher
	logger      *slog.Logger
	resubscribe bool

	mu           sync.Mutex
	op           *operation
	listenCancel context.CancelFunc
	attached     bool
}

type operation struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
}

func New(storage Storage, state StateAccessor, dispatch Dispatcher, opts Options) *Mediator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mediator{
		storage:     storage,
		state:       state,
		dispatch:    dispatch,
		logger:      logger,
		resubscribe: opts.Resubscribe,
	}
}

// Attach establishes the change-listener subscription. It must be called once,
// before any inbound action is processed; the subscription persists for the
// mediator's lifetime. Each delivered state is dispatched as StateChanged, in
// emission order.
func (m *Mediator) Attach(ctx context.Context) error {
	m.mu.Lock()
	if m.attached {
		m.mu.Unlock()
		return errors.New("mediator already attached")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	m.listenCancel = cancel
	m.attached = true
	m.mu.Unlock()

	ch, err := m.storage.ChangeListener(listenCtx)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to establish change listener")
	}

	go m.pump(listenCtx, ch)
	return nil
}

// Detach cancels the change listener and any in-flight operation.
func (m *Mediator) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenCancel != nil {
		m.listenCancel()
		m.listenCancel = nil
	}
	if m.op != nil {
		m.op.cancel()
		m.op = nil
	}
	m.attached = false
}

func (m *Mediator) pump(ctx context.Context, ch <-chan famsync.ChangeEvent) {
	for {
		for ev := range ch {
			if ev.Err != nil {
				m.logger.Error(
					"change stream delivered an error",
					slog.String("error", ev.Err.Error()),
					slog.String("module", "mediator"),
				)
				continue
			}
			m.dispatch(famsync.StateChanged{State: ev.State})
		}

		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("change stream terminated", slog.String("module", "mediator"))
		if !m.resubscribe {
			return
		}

		next, err := m.reestablish(ctx)
		if err != nil {
			m.logger.Error(
				"change stream resubscription failed",
				slog.String("error", err.Error()),
				slog.String("module", "mediator"),
			)
			return
		}
		m.logger.Info("change stream re-established", slog.String("module", "mediator"))
		ch = next
	}
}

func (m *Mediator) reestablish(ctx context.Context) (<-chan famsync.ChangeEvent, error) {
	var ch <-chan famsync.ChangeEvent
	subscribe := func() error {
		c, err := m.storage.ChangeListener(ctx)
		if err != nil {
			return err
		}
		ch = c
		return nil
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(subscribe, bo); err != nil {
		return nil, err
	}
	return ch, nil
}

// BeforeReduce runs the immediate, pre-reduction effects for an action.
func (m *Mediator) BeforeReduce(action famsync.Action) {
	switch a := action.(type) {
	case famsync.Register:
		m.storage.Register(a.Key)

	case famsync.Create:
		info := famsync.FamilyInfo{
			DisplayName: a.DisplayName,
			Members: map[string]famsync.MemberRecord{
				a.InitiatingUserID: {Role: famsync.RoleGuardian},
			},
		}
		m.begin("create", func(ctx context.Context, settled func() bool) {
			ctx, span := tracer.Start(ctx, "Mediator.Create")
			defer span.End()

			key, err := m.storage.Create(ctx, info)
			if !settled() {
				return
			}
			if err != nil {
				span.RecordError(err)
				m.logger.Error(
					"family creation failed",
					slog.String("error", err.Error()),
					slog.String("module", "mediator"),
				)
				return
			}
			m.dispatch(famsync.Register{Key: key})
		})
	}
}

// AfterReduce runs the deferred, post-reduction effects for an action. It
// reads the container state as left by the reducer; absent state means no-op.
func (m *Mediator) AfterReduce(action famsync.Action) {
	switch a := action.(type) {
	case famsync.Delete:
		st := m.state()
		if st == nil {
			m.logger.Debug("delete skipped, no family registered", slog.String("module", "mediator"))
			return
		}
		key := st.Key
		m.begin("delete", func(ctx context.Context, settled func() bool) {
			ctx, span := tracer.Start(ctx, "Mediator.Delete")
			defer span.End()

			err := m.storage.Delete(ctx, key)
			if !settled() {
				return
			}
			if err != nil {
				span.RecordError(err)
				m.logger.Error(
					"family deletion failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
					slog.String("module", "mediator"),
				)
				return
			}
			m.logger.Debug("family deleted", slog.String("key", key), slog.String("module", "mediator"))
		})

	case famsync.Update:
		st := m.state()
		if st == nil {
			m.logger.Debug("update skipped, no family registered", slog.String("module", "mediator"))
			return
		}
		if err := a.Patch.Validate(); err != nil {
			m.logger.Error(
				"update patch rejected",
				slog.String("error", err.Error()),
				slog.String("module", "mediator"),
			)
			return
		}
		key := st.Key
		patch := a.Patch.Flatten()
		m.begin("update", func(ctx context.Context, settled func() bool) {
			ctx, span := tracer.Start(ctx, "Mediator.Update")
			defer span.End()

			err := m.storage.Update(ctx, key, patch)
			if !settled() {
				return
			}
			if err != nil {
				span.RecordError(err)
				m.logger.Error(
					"family update failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
					slog.String("module", "mediator"),
				)
				return
			}
			m.logger.Debug("family updated", slog.String("key", key), slog.String("module", "mediator"))
		})
	}
}

// begin places a new operation in the slot, cancelling the previous occupant,
// and runs it on its own goroutine. The settled callback reports whether the
// operation still owns the slot; a cancelled operation's completion must never
// be observed.
func (m *Mediator) begin(name string, run func(ctx context.Context, settled func() bool)) {
	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{name: name, ctx: ctx, cancel: cancel}

	m.mu.Lock()
	if m.op != nil {
		m.op.cancel()
	}
	m.op = op
	m.mu.Unlock()

	go run(ctx, func() bool { return m.settle(op) })
}

func (m *Mediator) settle(op *operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != op || op.ctx.Err() != nil {
		return false
	}
	m.op = nil
	return true
}
