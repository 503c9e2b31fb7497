// internal/audit/async.go
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vantor-labs/concierge/api/schemas"
)

// Inserter is the narrow surface AsyncSink needs; *Store satisfies it.
type Inserter interface {
	Insert(ctx context.Context, e schemas.AuditEntry) error
}

// AsyncSink decouples the agent loop from audit persistence: Record enqueues
// and returns immediately. The queue is bounded; on overflow the entry is
// dropped and logged rather than blocking a customer turn. Failed writes are
// logged, not retried.
type AsyncSink struct {
	store  Inserter
	log    *zap.Logger
	queue  chan schemas.AuditEntry
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewAsyncSink starts the drain worker.
func NewAsyncSink(store Inserter, queueSize int, logger *zap.Logger) *AsyncSink {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	s := &AsyncSink{
		store:  store,
		log:    logger.Named("audit"),
		queue:  make(chan schemas.AuditEntry, queueSize),
		group:  g,
		cancel: cancel,
	}

	g.Go(func() error {
		for {
			select {
			case entry, ok := <-s.queue:
				if !ok {
					return nil
				}
				s.persist(entry)
			case <-ctx.Done():
				// Drain whatever is already queued before exiting.
				for {
					select {
					case entry, ok := <-s.queue:
						if !ok {
							return nil
						}
						s.persist(entry)
					default:
						return nil
					}
				}
			}
		}
	})

	return s
}

func (s *AsyncSink) persist(entry schemas.AuditEntry) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Insert(writeCtx, entry); err != nil {
		s.log.Error("Failed to persist audit entry",
			zap.String("turn_id", entry.TurnID),
			zap.String("tool", entry.Tool),
			zap.Error(err))
	}
}

// Record implements schemas.AuditSink. It never blocks.
func (s *AsyncSink) Record(entry schemas.AuditEntry) {
	select {
	case s.queue <- entry:
	default:
		s.log.Warn("Audit queue full; dropping entry",
			zap.String("turn_id", entry.TurnID),
			zap.String("tool", entry.Tool))
	}
}

// Close stops accepting entries, drains the queue, and waits for the worker.
func (s *AsyncSink) Close() {
	s.cancel()
	s.group.Wait() //nolint:errcheck // worker only returns nil
}
