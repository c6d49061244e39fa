// Package vault stores captured attachment files on the local filesystem.
// The directory tree itself is the index: files live at
// <root>/<guild>/<room>/<message>/a<attachmentID>-<filename>, and the set
// of captured attachment IDs for a message is recovered by listing its
// directory. Files are written once and never overwritten.
package vault

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"chronicler/internal/domain"
)

type Vault struct {
	root    string
	fetcher domain.Fetcher
	logger  *slog.Logger
}

func New(root string, fetcher domain.Fetcher, logger *slog.Logger) *Vault {
	return &Vault{root: root, fetcher: fetcher, logger: logger}
}

func (v *Vault) messageDir(guildID, roomID, messageID int64) string {
	return filepath.Join(v.root,
		strconv.FormatInt(guildID, 10),
		strconv.FormatInt(roomID, 10),
		strconv.FormatInt(messageID, 10),
	)
}

// Captured returns the attachment IDs already stored for a message,
// parsed out of the directory listing.
func (v *Vault) Captured(guildID, roomID, messageID int64) (map[int64]bool, error) {
	entries, err := os.ReadDir(v.messageDir(guildID, roomID, messageID))
	if os.IsNotExist(err) {
		return map[int64]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list vault dir: %w", err)
	}

	ids := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, _, ok := parseFileName(e.Name()); ok {
			ids[id] = true
		}
	}
	return ids, nil
}

// Capture downloads one attachment into the vault. Attachments already on
// disk are skipped, so re-observing a message is free.
func (v *Vault) Capture(ctx context.Context, guildID, roomID, messageID int64, att domain.Attachment) error {
	captured, err := v.Captured(guildID, roomID, messageID)
	if err != nil {
		return err
	}
	if captured[att.ID.Int64()] {
		return nil
	}

	data, err := v.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return fmt.Errorf("fetch attachment %d: %w", att.ID, err)
	}

	dir := v.messageDir(guildID, roomID, messageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	path := filepath.Join(dir, fileName(att.ID.Int64(), att.Filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write attachment %d: %w", att.ID, err)
	}

	v.logger.Debug("attachment captured",
		"message_id", messageID,
		"attachment_id", att.ID.Int64(),
		"bytes", len(data),
	)
	return nil
}

// Files lists the captured files of a message, sorted by attachment ID.
// Filter semantics: an empty Include means all, Exclude always wins, and
// Descriptions annotates the returned files by ID.
func (v *Vault) Files(guildID, roomID, messageID int64, filter domain.FileFilter) ([]domain.VaultFile, error) {
	dir := v.messageDir(guildID, roomID, messageID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list vault dir: %w", err)
	}

	var files []domain.VaultFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, name, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		if len(filter.Include) > 0 && !slices.Contains(filter.Include, id) {
			continue
		}
		if slices.Contains(filter.Exclude, id) {
			continue
		}
		files = append(files, domain.VaultFile{
			AttachmentID: id,
			Name:         name,
			Path:         filepath.Join(dir, e.Name()),
			Description:  filter.Descriptions[id],
		})
	}
	slices.SortFunc(files, func(a, b domain.VaultFile) int {
		return cmp.Compare(a.AttachmentID, b.AttachmentID)
	})
	return files, nil
}

// fileName builds the on-disk name a<ID>-<filename>. The original name is
// flattened to its base so payload data cannot escape the message dir.
func fileName(id int64, original string) string {
	base := filepath.Base(original)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "attachment"
	}
	return "a" + strconv.FormatInt(id, 10) + "-" + base
}

func parseFileName(name string) (id int64, original string, ok bool) {
	rest, found := strings.CutPrefix(name, "a")
	if !found {
		return 0, "", false
	}
	idStr, original, found := strings.Cut(rest, "-")
	if !found {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, original, true
}
