// Package notify posts audit notices about edits and deletions to the log
// rooms configured per guild. It only presents what the archive already
// holds; failures here never affect archiving.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"chronicler/internal/config"
	"chronicler/internal/domain"
)

// RouteResolver resolves the audit-log destinations of a guild.
type RouteResolver interface {
	LogRoutes(guildID int64) []config.LogRoute
}

type Notifier struct {
	sender domain.NoticeSender
	store  domain.VersionStore
	vault  domain.AttachmentVault
	routes RouteResolver
	logger *slog.Logger
}

func New(sender domain.NoticeSender, store domain.VersionStore, vault domain.AttachmentVault, routes RouteResolver, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, store: store, vault: vault, routes: routes, logger: logger}
}

// MessageDeleted posts the last archived revision of a deleted message,
// re-uploading its captured attachments from the vault. A message the
// archive never saw degrades to an unknown-content notice.
func (n *Notifier) MessageDeleted(ctx context.Context, guildID, roomID, messageID int64) {
	routes := n.deleteRoutes(guildID)
	if len(routes) == 0 {
		return
	}

	latest, err := n.store.Latest(ctx, messageID)
	if err != nil {
		n.logger.Warn("delete notice: cannot load archived message", "message_id", messageID, "err", err)
		return
	}

	notice := domain.Notice{Title: "Message deleted"}
	if latest == nil {
		notice.Body = "*(content unknown, message was never archived)*"
		notice.Fields = []domain.NoticeField{
			{Name: "Room", Value: roomRef(roomID)},
			{Name: "Message ID", Value: fmt.Sprintf("%d", messageID)},
		}
	} else {
		notice.Body = latest.Content
		if notice.Body == "" {
			notice.Body = "*(no text)*"
		}
		notice.Fields = []domain.NoticeField{
			{Name: "Author", Value: userRef(latest.AuthorID)},
			{Name: "Room", Value: roomRef(latest.RoomID)},
			{Name: "Message ID", Value: fmt.Sprintf("%d", messageID)},
		}
		notice.Files = n.capturedFiles(latest)
	}

	n.send(ctx, routes, notice)
}

// MessageEdited posts a diff between the pre-edit revision and the merged
// payload. Edits that did not change the text (pin toggles, embed
// refreshes) are not reported.
func (n *Notifier) MessageEdited(ctx context.Context, prev *domain.MessageVersion, cur *domain.MessagePayload) {
	routes := n.editRoutes(cur.GuildID)
	if len(routes) == 0 {
		return
	}

	var before string
	if prev != nil {
		before = prev.Content
		if before == cur.Content {
			return
		}
	}

	notice := domain.Notice{
		Title: "Message edited",
		Body:  renderEditDiff(before, cur.Content),
		Fields: []domain.NoticeField{
			{Name: "Author", Value: userRef(cur.AuthorID)},
			{Name: "Room", Value: roomRef(cur.RoomID)},
			{Name: "Message ID", Value: fmt.Sprintf("%d", cur.MessageID)},
		},
	}

	n.send(ctx, routes, notice)
}

// capturedFiles resolves the vault files matching the revision's own
// attachment list, carrying descriptions over as alt text.
func (n *Notifier) capturedFiles(v *domain.MessageVersion) []domain.VaultFile {
	atts, err := domain.ParseAttachments(v.Attachments)
	if err != nil || len(atts) == 0 {
		return nil
	}

	filter := domain.FileFilter{Descriptions: make(map[int64]string, len(atts))}
	for _, att := range atts {
		filter.Include = append(filter.Include, att.ID.Int64())
		if att.Description != "" {
			filter.Descriptions[att.ID.Int64()] = att.Description
		}
	}

	files, err := n.vault.Files(v.GuildID, v.RoomID, v.MessageID, filter)
	if err != nil {
		n.logger.Warn("delete notice: cannot list vault files", "message_id", v.MessageID, "err", err)
		return nil
	}
	return files
}

func (n *Notifier) send(ctx context.Context, roomIDs []int64, notice domain.Notice) {
	for _, roomID := range roomIDs {
		if err := n.sender.SendNotice(ctx, roomID, notice); err != nil {
			n.logger.Warn("notice send failed", "log_room", roomID, "err", err)
		}
	}
}

func (n *Notifier) deleteRoutes(guildID int64) []int64 {
	var ids []int64
	for _, r := range n.routes.LogRoutes(guildID) {
		if r.MessageDelete {
			ids = append(ids, r.RoomID)
		}
	}
	return ids
}

func (n *Notifier) editRoutes(guildID int64) []int64 {
	var ids []int64
	for _, r := range n.routes.LogRoutes(guildID) {
		if r.MessageEdit {
			ids = append(ids, r.RoomID)
		}
	}
	return ids
}

func userRef(id int64) string { return fmt.Sprintf("<@%d>", id) }
func roomRef(id int64) string { return fmt.Sprintf("<#%d>", id) }
