// Package backfill walks room history forward from each room's cursor and
// replays every fetched message through the same delivery path live
// messages use.
package backfill

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chronicler/internal/domain"
	"chronicler/internal/metrics"
)

const pageSize = 100

// Deliver hands one raw message object to the archive, exactly as a live
// gateway delivery would.
type Deliver func(ctx context.Context, raw json.RawMessage)

// Scheduler owns the room queue and the single backfill worker. A room is
// queued at most once at a time; one room is scanned at a time, so a
// noisy guild cannot interleave half-finished passes.
type Scheduler struct {
	source  domain.HistorySource
	store   domain.VersionStore
	flags   domain.FeatureFlags
	deliver Deliver
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[int64]struct{}
	queue   chan int64
}

func New(source domain.HistorySource, store domain.VersionStore, flags domain.FeatureFlags, deliver Deliver, queueSize int, logger *slog.Logger) *Scheduler {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Scheduler{
		source:  source,
		store:   store,
		flags:   flags,
		deliver: deliver,
		logger:  logger,
		pending: make(map[int64]struct{}),
		queue:   make(chan int64, queueSize),
	}
}

// Enqueue queues a room for a history pass regardless of flags. Rooms
// already queued or being scanned are not queued again.
func (s *Scheduler) Enqueue(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[roomID]; ok {
		return
	}

	select {
	case s.queue <- roomID:
		s.pending[roomID] = struct{}{}
		metrics.BackfillQueued.Set(int64(len(s.pending)))
	default:
		s.logger.Warn("backfill queue full, dropping room", "room_id", roomID)
	}
}

// EnqueueRoom queues a resolved room if backfill is enabled for it and
// the room's history is readable.
func (s *Scheduler) EnqueueRoom(room domain.Room) {
	if !room.CanReadHistory {
		return
	}
	if !s.flags.BackfillEnabled(room.GuildID, room.ID) {
		return
	}
	s.Enqueue(room.ID)
}

// EnqueueGuild queues every eligible room of a guild.
func (s *Scheduler) EnqueueGuild(ctx context.Context, guildID int64) {
	rooms, err := s.source.GuildRooms(ctx, guildID)
	if err != nil {
		s.logger.Warn("cannot list guild rooms", "guild_id", guildID, "err", err)
		return
	}
	for _, room := range rooms {
		s.EnqueueRoom(room)
	}
}

// Pending returns how many rooms are queued or being scanned.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run consumes the queue until ctx is cancelled. It is the only
// goroutine that scans rooms.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case roomID, ok := <-s.queue:
			if !ok {
				return
			}
			s.scan(ctx, roomID)
			s.mu.Lock()
			delete(s.pending, roomID)
			metrics.BackfillQueued.Set(int64(len(s.pending)))
			s.mu.Unlock()
		}
	}
}

// scan performs one history pass over a room. Any fetch error abandons
// the pass; the cursor already reflects every message delivered before
// the error, so the next pass resumes there.
func (s *Scheduler) scan(ctx context.Context, roomID int64) {
	start := time.Now()
	defer func() {
		metrics.BackfillPasses.Inc()
		metrics.BackfillPassDuration.Observe(time.Since(start).Seconds())
	}()

	room, err := s.source.Room(ctx, roomID)
	if err != nil {
		s.logger.Warn("backfill: cannot resolve room", "room_id", roomID, "err", err)
		return
	}
	if !room.CanReadHistory || !s.flags.BackfillEnabled(room.GuildID, room.ID) {
		s.logger.Debug("backfill: room not eligible", "room_id", roomID)
		return
	}

	if err := s.store.EnsureCursor(ctx, roomID); err != nil {
		s.logger.Warn("backfill: cannot ensure cursor", "room_id", roomID, "err", err)
		return
	}
	cursor, err := s.store.Cursor(ctx, roomID)
	if err != nil {
		s.logger.Warn("backfill: cannot read cursor", "room_id", roomID, "err", err)
		return
	}

	after := int64(0)
	if cursor != nil {
		after = *cursor
	}

	var fetched int
	for ctx.Err() == nil {
		page, err := s.source.MessagesAfter(ctx, roomID, after, pageSize)
		if err != nil {
			s.logger.Warn("backfill: history fetch failed, abandoning pass",
				"room_id", roomID, "after", after, "err", err)
			return
		}
		if len(page) == 0 {
			break
		}

		for _, raw := range page {
			var head struct {
				ID domain.Snowflake `json:"id"`
			}
			if err := json.Unmarshal(raw, &head); err != nil || head.ID == 0 {
				s.logger.Warn("backfill: skipping message without id", "room_id", roomID)
				continue
			}

			s.deliver(ctx, raw)
			fetched++

			// Advance per message, not per page, so an interrupted pass
			// never re-fetches what it already delivered.
			if err := s.store.AdvanceCursor(ctx, roomID, head.ID.Int64()); err != nil {
				s.logger.Warn("backfill: cursor advance failed", "room_id", roomID, "err", err)
			}
			after = head.ID.Int64()
		}

		if len(page) < pageSize {
			break
		}
	}

	s.logger.Info("backfill pass complete", "room_id", roomID, "messages", fetched,
		"duration", time.Since(start).Round(time.Millisecond))
}
