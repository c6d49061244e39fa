package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chronicler/internal/config"
	"chronicler/internal/domain"
	"chronicler/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type staticRoutes []config.LogRoute

func (r staticRoutes) LogRoutes(guildID int64) []config.LogRoute { return r }

type sentNotice struct {
	roomID int64
	notice domain.Notice
}

type fakeSender struct {
	sent []sentNotice
}

func (s *fakeSender) SendNotice(ctx context.Context, roomID int64, n domain.Notice) error {
	s.sent = append(s.sent, sentNotice{roomID: roomID, notice: n})
	return nil
}

type fakeVault struct {
	files     []domain.VaultFile
	gotFilter domain.FileFilter
}

func (v *fakeVault) Captured(guildID, roomID, messageID int64) (map[int64]bool, error) {
	return nil, nil
}

func (v *fakeVault) Capture(ctx context.Context, guildID, roomID, messageID int64, att domain.Attachment) error {
	return nil
}

func (v *fakeVault) Files(guildID, roomID, messageID int64, filter domain.FileFilter) ([]domain.VaultFile, error) {
	v.gotFilter = filter
	return v.files, nil
}

func archived(t *testing.T, s *store.SQLiteStore, v domain.MessageVersion) {
	t.Helper()
	if err := s.Append(context.Background(), v); err != nil {
		t.Fatal(err)
	}
}

func TestMessageDeleted_PostsArchivedContent(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{}
	vault := &fakeVault{files: []domain.VaultFile{{AttachmentID: 55, Name: "a.png", Path: "/x/a.png"}}}
	routes := staticRoutes{{RoomID: 300, MessageDelete: true, MessageEdit: false}}
	n := New(sender, s, vault, routes, testLogger())

	archived(t, s, domain.MessageVersion{
		MessageID: 10, RoomID: 200, GuildID: 100, AuthorID: 42,
		Content:     "so long",
		Attachments: json.RawMessage(`[{"id":"55","filename":"a.png","url":"u","description":"a chart"}]`),
		Embeds:      json.RawMessage("[]"),
		Raw:         json.RawMessage(`{"id":"10"}`),
	})

	n.MessageDeleted(context.Background(), 100, 200, 10)

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %+v", sender.sent)
	}
	got := sender.sent[0]
	if got.roomID != 300 {
		t.Errorf("posted to room %d", got.roomID)
	}
	if got.notice.Body != "so long" {
		t.Errorf("body = %q", got.notice.Body)
	}
	if len(got.notice.Files) != 1 || got.notice.Files[0].AttachmentID != 55 {
		t.Errorf("files = %+v", got.notice.Files)
	}
	if vault.gotFilter.Descriptions[55] != "a chart" {
		t.Errorf("description not carried: %+v", vault.gotFilter)
	}
}

func TestMessageDeleted_UnarchivedMessage(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{}
	routes := staticRoutes{{RoomID: 300, MessageDelete: true}}
	n := New(sender, s, &fakeVault{}, routes, testLogger())

	n.MessageDeleted(context.Background(), 100, 200, 999)

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[0].notice.Body, "unknown") {
		t.Errorf("body = %q", sender.sent[0].notice.Body)
	}
}

func TestMessageDeleted_NoRoute(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{}
	n := New(sender, s, &fakeVault{}, staticRoutes{{RoomID: 300, MessageEdit: true}}, testLogger())

	n.MessageDeleted(context.Background(), 100, 200, 10)
	if len(sender.sent) != 0 {
		t.Errorf("notice sent without a delete route: %+v", sender.sent)
	}
}

func TestMessageEdited_PostsDiff(t *testing.T) {
	s := testStore(t)
	sender := &fakeSender{}
	routes := staticRoutes{{RoomID: 300, MessageEdit: true}}
	n := New(sender, s, &fakeVault{}, routes, testLogger())

	prev := &domain.MessageVersion{MessageID: 10, RoomID: 200, GuildID: 100, AuthorID: 42, Content: "hello world"}
	cur := &domain.MessagePayload{MessageID: 10, RoomID: 200, GuildID: 100, AuthorID: 42, Content: "hello there"}

	n.MessageEdited(context.Background(), prev, cur)

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %+v", sender.sent)
	}
	body := sender.sent[0].notice.Body
	if !strings.Contains(body, "~~") || !strings.Contains(body, "**") {
		t.Errorf("no diff markers in %q", body)
	}
}

func TestMessageEdited_ContentUnchangedSkipped(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, testStore(t), &fakeVault{}, staticRoutes{{RoomID: 300, MessageEdit: true}}, testLogger())

	prev := &domain.MessageVersion{MessageID: 10, Content: "same"}
	cur := &domain.MessagePayload{MessageID: 10, GuildID: 100, Content: "same"}

	n.MessageEdited(context.Background(), prev, cur)
	if len(sender.sent) != 0 {
		t.Errorf("pin/embed-only edit produced a notice: %+v", sender.sent)
	}
}

func TestRenderEditDiff(t *testing.T) {
	tests := []struct {
		name     string
		original string
		edited   string
		contains []string
	}{
		{"small edit inline", "the quick fox", "the slow fox", []string{"~~quick~~", "**slow**"}},
		{"total rewrite falls back", "aaaa aaaa aaaa", "zzzz zzzz zzzz", []string{"Before:", "After:"}},
		{"from empty", "", "new text", []string{"**new text**"}},
		{"to empty", "old text", "", []string{"~~old text~~"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderEditDiff(tt.original, tt.edited)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("renderEditDiff(%q, %q) = %q, missing %q", tt.original, tt.edited, got, want)
				}
			}
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("a*b_c~d`e")
	want := "a\\*b\\_c\\~d\\`e"
	if got != want {
		t.Errorf("escapeMarkdown = %q, want %q", got, want)
	}
}
