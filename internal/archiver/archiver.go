// Package archiver is the routing loop between the gateway and the rest
// of the archive: it consumes gateway events from the bus and drives
// ingest, backfill scheduling, and audit notices.
package archiver

import (
	"context"
	"log/slog"

	"chronicler/internal/backfill"
	"chronicler/internal/domain"
	"chronicler/internal/ingest"
	"chronicler/internal/notify"
)

type Archiver struct {
	bus      domain.EventBus
	ingestor *ingest.Ingestor
	sched    *backfill.Scheduler
	flags    domain.FeatureFlags
	notifier *notify.Notifier // nil when no log routes are configured
	logger   *slog.Logger
}

func New(bus domain.EventBus, ingestor *ingest.Ingestor, sched *backfill.Scheduler, flags domain.FeatureFlags, notifier *notify.Notifier, logger *slog.Logger) *Archiver {
	return &Archiver{
		bus:      bus,
		ingestor: ingestor,
		sched:    sched,
		flags:    flags,
		notifier: notifier,
		logger:   logger,
	}
}

// Run consumes gateway events until the bus closes or ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	events := a.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Archiver) handle(ctx context.Context, ev domain.GatewayEvent) {
	// The gateway republishes its own outbound sends with FromSelf set;
	// the same message arrives again as a normal gateway dispatch, so
	// handling both would archive it twice.
	if ev.FromSelf {
		a.logger.Debug("skipping own outbound delivery", "kind", ev.Kind, "message_id", ev.MessageID)
		return
	}

	switch ev.Kind {
	case domain.EventMessageObserved:
		a.ingestor.IngestRaw(ctx, ev.Payload)

	case domain.EventMessageEdited:
		if !a.flags.HistoryEnabled(ev.GuildID, ev.RoomID) {
			return
		}
		prev, cur, err := a.ingestor.ApplyPartialUpdate(ctx, ev.Payload)
		if err != nil {
			a.logger.Warn("edit not applied", "message_id", ev.MessageID, "err", err)
			return
		}
		if a.notifier != nil {
			a.notifier.MessageEdited(ctx, prev, cur)
		}

	case domain.EventMessageDeleted:
		if a.notifier != nil {
			a.notifier.MessageDeleted(ctx, ev.GuildID, ev.RoomID, ev.MessageID)
		}

	case domain.EventRoomChanged:
		if ev.Room != nil {
			a.sched.EnqueueRoom(*ev.Room)
		} else {
			// Unresolvable room updates queue unconditionally; the scan
			// re-checks flags and permissions once it can resolve them.
			a.sched.Enqueue(ev.RoomID)
		}

	case domain.EventGuildChanged:
		a.logger.Info("guild changed, rescanning rooms", "guild_id", ev.GuildID, "reason", ev.Reason)
		a.sched.EnqueueGuild(ctx, ev.GuildID)

	default:
		a.logger.Warn("unknown gateway event", "kind", ev.Kind)
	}
}
