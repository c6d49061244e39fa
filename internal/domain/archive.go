package domain

import (
	"context"
	"encoding/json"
)

// VersionStore persists immutable message revisions and per-room backfill
// cursors.
type VersionStore interface {
	// Append stores one revision. Appending an existing
	// (message_id, version) pair is a constraint violation.
	Append(ctx context.Context, v MessageVersion) error

	// Latest returns the highest-versioned revision of a message, or nil
	// when the message has never been archived.
	Latest(ctx context.Context, messageID int64) (*MessageVersion, error)

	// EnsureCursor creates the cursor row for a room if it does not
	// exist. The fresh cursor is null.
	EnsureCursor(ctx context.Context, roomID int64) error

	// Cursor returns the room's last seen message ID, or nil when the
	// room is unknown or its cursor is still null.
	Cursor(ctx context.Context, roomID int64) (*int64, error)

	// AdvanceCursor moves the room cursor forward to messageID. The
	// cursor never decreases; advancing to the current value is a no-op.
	AdvanceCursor(ctx context.Context, roomID, messageID int64) error

	Close() error
}

// AttachmentVault stores attachment files on disk, keyed by attachment ID
// within a message's directory.
type AttachmentVault interface {
	// Captured returns the set of attachment IDs already on disk for a
	// message.
	Captured(guildID, roomID, messageID int64) (map[int64]bool, error)

	// Capture downloads and stores one attachment. Already-captured
	// attachments are skipped; existing files are never overwritten.
	Capture(ctx context.Context, guildID, roomID, messageID int64, att Attachment) error

	// Files lists a message's captured files, optionally filtered.
	Files(guildID, roomID, messageID int64, filter FileFilter) ([]VaultFile, error)
}

// FileFilter narrows a vault listing. Include and Exclude hold attachment
// IDs; Descriptions carries per-ID alt text onto the returned files.
type FileFilter struct {
	Include      []int64
	Exclude      []int64
	Descriptions map[int64]string
}

// VaultFile is one captured attachment on disk.
type VaultFile struct {
	AttachmentID int64
	Name         string
	Path         string
	Description  string
}

// FeatureFlags resolves per-room archive switches.
type FeatureFlags interface {
	HistoryEnabled(guildID, roomID int64) bool
	BackfillEnabled(guildID, roomID int64) bool
}

// HistorySource reads rooms and historical messages from the chat
// platform.
type HistorySource interface {
	// Room resolves a room by ID.
	Room(ctx context.Context, roomID int64) (*Room, error)

	// GuildRooms lists the text-capable rooms of a guild.
	GuildRooms(ctx context.Context, guildID int64) ([]Room, error)

	// MessagesAfter returns up to limit raw message objects with IDs
	// strictly greater than afterID, in ascending ID order.
	MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]json.RawMessage, error)
}

// Fetcher downloads attachment bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// EventBus carries gateway events to the archive loop in-process.
type EventBus interface {
	Publish(ev GatewayEvent)
	Subscribe() <-chan GatewayEvent
	Close()
}

// Notice is an audit message posted to a configured log room.
type Notice struct {
	Title  string
	Body   string
	Fields []NoticeField
	Files  []VaultFile
}

type NoticeField struct {
	Name  string
	Value string
}

// NoticeSender posts audit notices back to the chat platform.
type NoticeSender interface {
	SendNotice(ctx context.Context, roomID int64, n Notice) error
}
