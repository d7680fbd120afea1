package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
)

const pgBuffer = 64

// PGListener is a ChangeSource backed by Postgres LISTEN/NOTIFY. A trigger
// on the outbox table (see InstallTrigger) publishes each row as JSON.
type PGListener struct {
	dsn     string
	channel string
	log     logger.Logger
}

// NewPGListener creates a LISTEN/NOTIFY change source.
func NewPGListener(dsn, channel string, log logger.Logger) *PGListener {
	if channel == "" {
		channel = "alert_rule_changes"
	}
	if log == nil {
		log = logger.Silent()
	}
	return &PGListener{
		dsn:     dsn,
		channel: channel,
		log:     log.Module("feed").With(logger.String("feed", "pg-notify"), logger.String("channel", channel)),
	}
}

// TriggerSQL returns the statements that make the outbox table notify
// channel on insert.
func TriggerSQL(channel string) []string {
	fn := pgx.Identifier{channel + "_notify"}.Sanitize()
	trg := pgx.Identifier{channel + "_notify_trg"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(%s, json_build_object('rule_id', NEW.rule_id, 'op', NEW.op, 'seq', NEW.id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`, fn, quoteLiteral(channel)),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON alert_rule_changes`, trg),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON alert_rule_changes FOR EACH ROW EXECUTE FUNCTION %s()`, trg, fn),
	}
}

// InstallTrigger creates or replaces the outbox notify trigger.
func (l *PGListener) InstallTrigger(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return l.networkErr("failed to connect to postgres", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	for _, stmt := range TriggerSQL(l.channel) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return errors.Newf("failed to install notify trigger: %w", err).
				Component("feed").
				Category(errors.CategoryDatabase).
				Build()
		}
	}
	l.log.Info("notify trigger installed")
	return nil
}

// Subscribe opens a dedicated connection and LISTENs on the channel.
func (l *PGListener) Subscribe(ctx context.Context) (Subscription[RuleChange], error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return nil, l.networkErr("failed to connect to postgres", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, l.networkErr("failed to listen", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	stream := NewStream[RuleChange](pgBuffer, func() error {
		cancel()
		wg.Wait()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		return conn.Close(closeCtx)
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			n, err := conn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					stream.Fail(l.networkErr("notification wait failed", err))
				}
				return
			}
			change, err := DecodeRuleChange([]byte(n.Payload))
			if err != nil {
				l.log.Warn("dropping notification", logger.Error(err))
				continue
			}
			if !stream.Send(listenCtx, change) {
				return
			}
		}
	}()

	l.log.Info("listening for rule changes")
	return stream, nil
}

func (l *PGListener) networkErr(msg string, err error) error {
	return errors.Newf("%s: %w", msg, err).
		Component("feed").
		Category(errors.CategoryNetwork).
		Context("channel", l.channel).
		Build()
}

// quoteLiteral quotes s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
