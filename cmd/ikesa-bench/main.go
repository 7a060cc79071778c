// Command ikesa-bench drives an in-memory IKE SA manager with a pool of
// synthetic workers, to exercise and benchmark its checkout/checkin and
// flush paths without a real IKEv2 stack attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/behrlich/go-ikesa"
	"github.com/behrlich/go-ikesa/internal/hash"
	"github.com/behrlich/go-ikesa/internal/interfaces"
	"github.com/behrlich/go-ikesa/internal/logging"
	"github.com/behrlich/go-ikesa/internal/rng"
)

type factory struct{}

func (factory) NewSA(id interfaces.SAID) interfaces.SAHandle {
	return ikesa.NewMockSAHandle(id, uint32(id.InitSPI))
}

func main() {
	var (
		workers   = flag.Int("workers", 16, "number of synthetic worker goroutines")
		duration  = flag.Duration("duration", 5*time.Second, "how long to run before a final flush")
		flushEach = flag.Duration("flush-every", time.Second, "how often a background goroutine flushes the table")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var bus ikesa.EventBus = ikesa.NoopBus{}
	if *verbose {
		bus = ikesa.NewLoggingBus(logger)
	}

	cfg := ikesa.DefaultConfig()
	mgr, err := ikesa.NewManager(cfg, factory{}, rng.New(), hash.NewPacketHasher(), bus, &ikesa.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to build manager", "err", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go runWorker(ctx, &wg, mgr, i)
	}

	flushTicker := time.NewTicker(*flushEach)
	defer flushTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-flushTicker.C:
				before := mgr.Len()
				mgr.Flush()
				logger.Info("periodic flush", "drained", before)
			}
		}
	}()

	logger.Info("running", "workers", *workers, "duration", duration.String())
	<-ctx.Done()
	wg.Wait()

	mgr.Flush()
	snap := mgr.Metrics().Snapshot()
	fmt.Printf("checkouts=%d rejected=%d checkins=%d destroys=%d flushes=%d flush_destroyed=%d\n",
		snap.Checkouts, snap.CheckoutRejections, snap.Checkins, snap.Destroys, snap.Flushes, snap.FlushDestroyed)
}

func runWorker(ctx context.Context, wg *sync.WaitGroup, mgr *ikesa.Manager, id int) {
	defer wg.Done()
	r := rand.New(rand.NewSource(int64(id) + 1))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sa, err := mgr.CheckoutNew(true)
		if err != nil {
			continue
		}
		time.Sleep(time.Duration(r.Intn(500)) * time.Microsecond)
		if err := mgr.Checkin(sa); err != nil {
			continue
		}
	}
}
