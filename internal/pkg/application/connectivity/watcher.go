package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
)

// Pinger pings the remote store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Switch is told about every change in connectivity
type Switch interface {
	SetOnline(ctx context.Context, online bool)
}

type Watcher interface {
	Start() error
	Stop() error

	// Check pings the remote store right away and reports if it is reachable
	Check(ctx context.Context) bool
}

var tracer = otel.Tracer("field-sync/connectivity")

type action func()

type watcher struct {
	started  bool
	pinger   Pinger
	target   Switch
	interval time.Duration

	mu     sync.Mutex
	known  bool
	online bool

	ctx   context.Context
	done  chan struct{}
	queue chan action
}

func Interval(interval time.Duration) func(*watcher) {
	return func(w *watcher) {
		w.interval = interval
	}
}

func NewWatcher(ctx context.Context, pinger Pinger, target Switch, options ...func(*watcher)) (Watcher, error) {
	w := &watcher{
		pinger:   pinger,
		target:   target,
		interval: 30 * time.Second,
		ctx:      ctx,
		done:     make(chan struct{}),
		queue:    make(chan action, 32),
	}

	for _, option := range options {
		option(w)
	}

	if w.interval <= 0 {
		return nil, fmt.Errorf("ping interval must be positive")
	}

	return w, nil
}

func (w *watcher) Start() error {
	if w.started {
		return fmt.Errorf("already started")
	}

	w.started = true

	go w.run()
	go w.tick()

	w.queue <- func() { w.ping(w.ctx) }

	return nil
}

func (w *watcher) Stop() error {
	if w.started {
		close(w.done)

		// Create a result channel so that we can wait for completion
		resultChan := make(chan bool)

		w.queue <- func() {
			// close the queue to signal the consumers that we are going out of business
			close(w.queue)
			resultChan <- true
		}

		// blocking read until our action has been processed
		<-resultChan
	}
	return nil
}

func (w *watcher) Check(ctx context.Context) bool {
	return w.ping(ctx)
}

func (w *watcher) tick() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-w.done:
				return
			case w.queue <- func() { w.ping(w.ctx) }:
			}
		}
	}
}

func (w *watcher) ping(ctx context.Context) bool {
	var err error

	ctx, span := tracer.Start(ctx, "ping")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = w.pinger.Ping(ctx)

	// any answer from the remote store means it can be reached
	online := err == nil || !jsonapierrors.IsTransient(err)

	w.mu.Lock()
	changed := !w.known || w.online != online
	w.known = true
	w.online = online
	w.mu.Unlock()

	if changed {
		log := logging.GetFromContext(ctx)
		if err != nil {
			log.Info("remote store pinged", "online", online, "err", err.Error())
		} else {
			log.Info("remote store pinged", "online", online)
		}

		w.target.SetOnline(ctx, online)
	}

	return online
}

func (w *watcher) run() {
	// repeat until the queue is closed
	for action := range w.queue {
		if action == nil {
			return
		}

		action()
	}
}
