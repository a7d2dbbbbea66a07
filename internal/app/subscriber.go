package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/famsync/pkg/sync/component/archive"
	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	"github.com/tigerroll/famsync/pkg/sync/engine/processor"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

const (
	// requeueSweepInterval is how often expired leases are swept back onto the
	// ready queue.
	requeueSweepInterval = 30 * time.Second

	// archiveInterval is how often the finished-job archiver runs.
	archiveInterval = 1 * time.Hour
)

// leaseSweeper is implemented by event sources that lease messages and need a
// periodic sweep to reclaim leases from crashed consumers.
type leaseSweeper interface {
	RequeueExpired(ctx context.Context) (int, error)
}

// messageProcessor is the processing half of the consume loop.
type messageProcessor interface {
	ProcessMessage(ctx context.Context, msg *port.InboundMessage) (*port.ProcessResult, error)
}

// Subscriber drives the consume loop: receive, process, ack or nack.
type Subscriber struct {
	source    port.EventSource
	processor messageProcessor
	archiver  *archive.Archiver
	cfg       *config.Config

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates the subscriber and hooks its loop into the fx
// lifecycle.
func NewSubscriber(
	lc fx.Lifecycle,
	source port.EventSource,
	proc *processor.Processor,
	archiver *archive.Archiver,
	cfg *config.Config,
) *Subscriber {
	s := &Subscriber{
		source:    source,
		processor: proc,
		archiver:  archiver,
		cfg:       cfg,
		done:      make(chan struct{}),
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(loopCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return s
}

// run consumes messages until the context is cancelled. Lease sweeps and
// archive runs share the loop via tickers.
func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)

	receiveTimeout := time.Duration(s.cfg.Famsync.Queue.ReceiveTimeoutSeconds) * time.Second
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}

	sweepTicker := time.NewTicker(requeueSweepInterval)
	defer sweepTicker.Stop()
	archiveTicker := time.NewTicker(archiveInterval)
	defer archiveTicker.Stop()

	logger.Infof("Subscriber started (receive timeout: %s).", receiveTimeout)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Subscriber stopping.")
			return
		case <-sweepTicker.C:
			s.sweepExpiredLeases(ctx)
		case <-archiveTicker.C:
			if _, err := s.archiver.Run(ctx); err != nil {
				logger.Errorf("Archive run failed: %v", err)
			}
		default:
			s.consumeOne(ctx)
		}
	}
}

// consumeOne receives and processes a single message. Every outcome resolves
// to exactly one ack or nack. Only temporary failures are nacked for
// redelivery; a message that cannot ever process (missing payload, unparsable
// timestamp, a skippable transform error) is acked and dropped, since
// redelivering unchanged input would loop forever.
func (s *Subscriber) consumeOne(ctx context.Context) {
	receiveTimeout := time.Duration(s.cfg.Famsync.Queue.ReceiveTimeoutSeconds) * time.Second
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}

	msg, err := s.source.Receive(ctx, receiveTimeout)
	if err != nil {
		if errors.Is(err, port.ErrNoMessage) || errors.Is(err, context.Canceled) {
			return
		}
		logger.Errorf("Failed to receive message: %v", err)
		return
	}

	result, err := s.processor.ProcessMessage(ctx, msg)
	if err != nil {
		logger.Errorf("Failed to process message '%s': %v", msg.ID, err)
	}

	if result != nil && result.Acked {
		if err := s.source.Ack(ctx, msg); err != nil {
			logger.Errorf("Failed to ack message '%s': %v", msg.ID, err)
		}
		return
	}
	if err != nil && !exception.IsTemporary(err) {
		logger.Warnf("Dropping message '%s': %s", msg.ID, exception.ExtractErrorMessage(err))
		if ackErr := s.source.Ack(ctx, msg); ackErr != nil {
			logger.Errorf("Failed to ack dropped message '%s': %v", msg.ID, ackErr)
		}
		return
	}
	if err := s.source.Nack(ctx, msg); err != nil {
		logger.Errorf("Failed to nack message '%s': %v", msg.ID, err)
	}
}

func (s *Subscriber) sweepExpiredLeases(ctx context.Context) {
	sweeper, ok := s.source.(leaseSweeper)
	if !ok {
		return
	}
	reclaimed, err := sweeper.RequeueExpired(ctx)
	if err != nil {
		logger.Errorf("Failed to requeue expired leases: %v", err)
		return
	}
	if reclaimed > 0 {
		logger.Warnf("Requeued %d expired message leases.", reclaimed)
	}
}
