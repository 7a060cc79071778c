// Package worker runs a pool of goroutines that pull inbound messages off
// a channel and dispatch them through the manager's checkout/checkin
// protocol, the way a real IKE daemon's job queue would hand packets to
// worker threads.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/behrlich/go-ikesa"
	"github.com/behrlich/go-ikesa/internal/interfaces"
	"github.com/behrlich/go-ikesa/internal/logging"
)

// Config configures a Dispatcher.
type Config struct {
	Manager  *ikesa.Manager
	Workers  int
	Logger   *logging.Logger
	// Handle is invoked with the checked-out SA for every dispatched
	// message, inside the worker goroutine that checked it out. The
	// dispatcher always checks the SA back in afterwards, regardless of
	// what Handle returns.
	Handle func(sa interfaces.SAHandle, msg interfaces.Message) error
}

// Dispatcher pulls messages off a channel and routes each one through
// Manager.CheckoutByMessage, running Handle against the leased SA before
// checking it back in.
type Dispatcher struct {
	cfg Config
}

// New builds a Dispatcher. Workers below 1 is treated as 1.
func New(cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(nil)
	}
	return &Dispatcher{cfg: cfg}
}

// Run drains msgs across cfg.Workers goroutines until msgs is closed or
// ctx is canceled, whichever happens first. A failed dispatch (a checkout
// error or an error from Handle) is logged and does not stop the workers.
// Run returns ctx's error if ctx is canceled before msgs is closed, and
// nil otherwise.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan interfaces.Message) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			return d.worker(ctx, msgs)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, msgs <-chan interfaces.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := d.dispatch(msg); err != nil {
				d.cfg.Logger.Warn("dispatch failed", "err", err.Error())
			}
		}
	}
}

func (d *Dispatcher) dispatch(msg interfaces.Message) error {
	sa, err := d.cfg.Manager.CheckoutByMessage(msg)
	if err != nil {
		if ikesa.IsCode(err, ikesa.ErrCodeCheckoutRejected) {
			// Retransmit, duplicate in-flight message, or an entry being
			// driven out: not an error worth propagating, just dropped.
			return nil
		}
		return err
	}

	handleErr := d.cfg.Handle(sa, msg)
	if err := d.cfg.Manager.Checkin(sa); err != nil {
		d.cfg.Logger.Warn("checkin after dispatch failed", "err", err.Error())
	}
	return handleErr
}
