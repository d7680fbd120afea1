package feed

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
)

const (
	pollBatch  = 200
	pollBuffer = 64
)

// OutboxPoller is a ChangeSource that tails the rule change outbox table.
// Each subscription starts after the newest row present when it opens;
// consumers reload in full on subscribe so earlier rows are already covered.
type OutboxPoller struct {
	repo     repository.RuleRepository
	interval time.Duration
	log      logger.Logger
}

// NewOutboxPoller creates a polling change source.
func NewOutboxPoller(repo repository.RuleRepository, interval time.Duration, log logger.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Silent()
	}
	return &OutboxPoller{
		repo:     repo,
		interval: interval,
		log:      log.Module("feed").With(logger.String("feed", "outbox")),
	}
}

// Subscribe starts polling. A query failure ends the subscription through
// Err.
func (p *OutboxPoller) Subscribe(ctx context.Context) (Subscription[RuleChange], error) {
	cursor, err := p.repo.LatestChangeID(ctx)
	if err != nil {
		return nil, errors.New(err).
			Component("feed").
			Category(errors.CategoryDatabase).
			Build()
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	stream := NewStream[RuleChange](pollBuffer, func() error {
		cancel()
		wg.Wait()
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.run(pollCtx, stream, cursor)
	}()

	p.log.Debug("outbox polling started", logger.Uint64("cursor", uint64(cursor)))
	return stream, nil
}

func (p *OutboxPoller) run(ctx context.Context, stream *Stream[RuleChange], cursor uint) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			changes, err := p.repo.ListChangesSince(ctx, cursor, pollBatch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				stream.Fail(errors.New(err).
					Component("feed").
					Category(errors.CategoryDatabase).
					Context("cursor", cursor).
					Build())
				return
			}
			for _, c := range changes {
				if !stream.Send(ctx, RuleChange{RuleID: c.RuleID, Op: c.Op, Seq: c.ID}) {
					return
				}
				cursor = c.ID
			}
			if len(changes) < pollBatch {
				break
			}
		}
	}
}
