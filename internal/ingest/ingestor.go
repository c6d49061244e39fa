// Package ingest decides what a message observation does to the archive:
// nothing, a first revision, or a new revision appended on top of the
// stored history.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chronicler/internal/domain"
	"chronicler/internal/metrics"
)

type Ingestor struct {
	store  domain.VersionStore
	vault  domain.AttachmentVault
	flags  domain.FeatureFlags
	logger *slog.Logger
}

func New(store domain.VersionStore, vault domain.AttachmentVault, flags domain.FeatureFlags, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, vault: vault, flags: flags, logger: logger}
}

// Ingest records one observation of a full message payload. Live delivery
// and backfill re-delivery both land here, so observing the same payload
// twice is a no-op. Returns the revision that preceded the observation
// when a new one was appended.
//
// Attachment capture runs on every enabled observation and never fails
// the ingest; download errors are logged and retried on the next
// observation.
func (ing *Ingestor) Ingest(ctx context.Context, p *domain.MessagePayload) (prev *domain.MessageVersion, appended bool, err error) {
	if !ing.flags.HistoryEnabled(p.GuildID, p.RoomID) {
		return nil, false, nil
	}
	metrics.MessagesIngested.Inc()

	latest, err := ing.store.Latest(ctx, p.MessageID)
	if err != nil {
		return nil, false, err
	}

	switch {
	case latest == nil:
		if err := ing.store.Append(ctx, p.AsVersion(0)); err != nil {
			return nil, false, err
		}
		metrics.VersionsAppended.Inc()
		appended = true
	case changed(latest, p):
		if err := ing.store.Append(ctx, p.AsVersion(latest.Version+1)); err != nil {
			return nil, false, err
		}
		metrics.VersionsAppended.Inc()
		prev = latest
		appended = true
	default:
		metrics.NoopObservations.Inc()
	}

	ing.captureAttachments(ctx, p)
	return prev, appended, nil
}

// IngestRaw parses a raw message object and ingests it. This is the
// delivery path shared by live gateway events and backfill re-delivery;
// failures are logged, never propagated.
func (ing *Ingestor) IngestRaw(ctx context.Context, raw json.RawMessage) {
	p, err := domain.ParseMessage(raw)
	if err != nil {
		ing.logger.Warn("unparseable message payload", "err", err)
		return
	}
	if _, _, err := ing.Ingest(ctx, p); err != nil {
		ing.logger.Warn("ingest failed", "message_id", p.MessageID, "err", err)
	}
}

// ApplyPartialUpdate folds a partial message object (an edit event) onto
// the latest stored revision and appends the result as a new revision,
// whether or not anything differs. A message never seen before is stored
// from the partial alone as version 0. Returns the pre-merge revision for
// diffing, and the merged payload.
func (ing *Ingestor) ApplyPartialUpdate(ctx context.Context, partial json.RawMessage) (prev *domain.MessageVersion, cur *domain.MessagePayload, err error) {
	var head struct {
		ID domain.Snowflake `json:"id"`
	}
	if err := json.Unmarshal(partial, &head); err != nil {
		return nil, nil, fmt.Errorf("parse partial update: %w", err)
	}
	if head.ID == 0 {
		return nil, nil, fmt.Errorf("partial update has no message id")
	}

	latest, err := ing.store.Latest(ctx, head.ID.Int64())
	if err != nil {
		return nil, nil, err
	}

	merged := partial
	version := int64(0)
	if latest != nil {
		merged, err = domain.MergeTopLevel(latest.Raw, partial)
		if err != nil {
			return nil, nil, err
		}
		version = latest.Version + 1
	}

	cur, err = domain.ParseMessage(merged)
	if err != nil {
		return nil, nil, err
	}
	if err := ing.store.Append(ctx, cur.AsVersion(version)); err != nil {
		return nil, nil, err
	}
	metrics.VersionsAppended.Inc()

	ing.captureAttachments(ctx, cur)
	return latest, cur, nil
}

func (ing *Ingestor) captureAttachments(ctx context.Context, p *domain.MessagePayload) {
	atts, err := domain.ParseAttachments(p.Attachments)
	if err != nil {
		ing.logger.Warn("unparseable attachments list", "message_id", p.MessageID, "err", err)
		return
	}
	for _, att := range atts {
		if att.URL == "" {
			continue
		}
		if err := ing.vault.Capture(ctx, p.GuildID, p.RoomID, p.MessageID, att); err != nil {
			metrics.CaptureFailures.Inc()
			ing.logger.Warn("attachment capture failed",
				"message_id", p.MessageID,
				"attachment_id", att.ID.Int64(),
				"err", err,
			)
			continue
		}
		metrics.AttachmentsCaptured.Inc()
	}
}

// changed reports whether an observed payload differs from the stored
// revision on any archived field.
func changed(stored *domain.MessageVersion, p *domain.MessagePayload) bool {
	if stored.Pinned != p.Pinned {
		return true
	}
	if !equalStringPtr(stored.EditedTimestamp, p.EditedTimestamp) {
		return true
	}
	if stored.Content != p.Content {
		return true
	}
	if !domain.JSONEqual(stored.Attachments, p.Attachments) {
		return true
	}
	if !domain.JSONEqual(stored.Embeds, p.Embeds) {
		return true
	}
	return false
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
