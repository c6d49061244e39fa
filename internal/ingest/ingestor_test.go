package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

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

// memVault records captures without touching disk.
type memVault struct {
	captured map[string]bool
}

func newMemVault() *memVault { return &memVault{captured: map[string]bool{}} }

func (v *memVault) key(messageID int64, att domain.Attachment) string {
	return fmt.Sprintf("%d/%d", messageID, att.ID.Int64())
}

func (v *memVault) Captured(guildID, roomID, messageID int64) (map[int64]bool, error) {
	return nil, nil
}

func (v *memVault) Capture(ctx context.Context, guildID, roomID, messageID int64, att domain.Attachment) error {
	v.captured[v.key(messageID, att)] = true
	return nil
}

func (v *memVault) Files(guildID, roomID, messageID int64, filter domain.FileFilter) ([]domain.VaultFile, error) {
	return nil, nil
}

// staticFlags enables everything, optionally minus specific rooms.
type staticFlags struct {
	history  bool
	backfill bool
}

func (f staticFlags) HistoryEnabled(guildID, roomID int64) bool  { return f.history }
func (f staticFlags) BackfillEnabled(guildID, roomID int64) bool { return f.backfill }

func payload(t *testing.T, body string) *domain.MessagePayload {
	t.Helper()
	p, err := domain.ParseMessage(json.RawMessage(body))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

const baseMessage = `{
	"id": "10", "channel_id": "200", "guild_id": "100",
	"author": {"id": "300"},
	"pinned": false, "edited_timestamp": null,
	"content": "hello",
	"attachments": [], "embeds": []
}`

func newIngestor(t *testing.T) (*Ingestor, *store.SQLiteStore, *memVault) {
	s := testStore(t)
	v := newMemVault()
	return New(s, v, staticFlags{history: true, backfill: true}, testLogger()), s, v
}

func TestIngest_FirstObservation(t *testing.T) {
	ing, s, _ := newIngestor(t)
	ctx := context.Background()

	prev, appended, err := ing.Ingest(ctx, payload(t, baseMessage))
	if err != nil {
		t.Fatal(err)
	}
	if !appended || prev != nil {
		t.Fatalf("appended=%v prev=%v", appended, prev)
	}

	got, _ := s.Latest(ctx, 10)
	if got == nil || got.Version != 0 || got.Content != "hello" {
		t.Errorf("stored = %+v", got)
	}
}

func TestIngest_IdempotentReobservation(t *testing.T) {
	ing, s, _ := newIngestor(t)
	ctx := context.Background()

	ing.Ingest(ctx, payload(t, baseMessage))
	prev, appended, err := ing.Ingest(ctx, payload(t, baseMessage))
	if err != nil {
		t.Fatal(err)
	}
	if appended || prev != nil {
		t.Fatalf("re-observation appended a version: appended=%v prev=%v", appended, prev)
	}

	got, _ := s.Latest(ctx, 10)
	if got.Version != 0 {
		t.Errorf("version = %d, want 0", got.Version)
	}
}

func TestIngest_ChangedFieldsAppend(t *testing.T) {
	tests := []struct {
		name string
		next string
	}{
		{"content", `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"edited","attachments":[],"embeds":[]}`},
		{"pinned", `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":true,"content":"hello","attachments":[],"embeds":[]}`},
		{"edited_timestamp", `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"edited_timestamp":"2024-05-01T10:00:00+00:00","content":"hello","attachments":[],"embeds":[]}`},
		{"embeds", `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"hello","attachments":[],"embeds":[{"title":"t"}]}`},
		{"attachments", `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"hello","attachments":[{"id":"9","filename":"f","url":"u"}],"embeds":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, s, _ := newIngestor(t)
			ctx := context.Background()

			ing.Ingest(ctx, payload(t, baseMessage))
			prev, appended, err := ing.Ingest(ctx, payload(t, tt.next))
			if err != nil {
				t.Fatal(err)
			}
			if !appended {
				t.Fatal("change did not append")
			}
			if prev == nil || prev.Version != 0 {
				t.Fatalf("prev = %+v", prev)
			}
			got, _ := s.Latest(ctx, 10)
			if got.Version != 1 {
				t.Errorf("version = %d, want 1", got.Version)
			}
		})
	}
}

func TestIngest_KeyOrderIsNotAChange(t *testing.T) {
	ing, _, _ := newIngestor(t)
	ctx := context.Background()

	withEmbed := `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"hello","attachments":[],"embeds":[{"title":"t","color":5}]}`
	reordered := `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"hello","attachments":[],"embeds":[{"color":5,"title":"t"}]}`

	ing.Ingest(ctx, payload(t, withEmbed))
	_, appended, err := ing.Ingest(ctx, payload(t, reordered))
	if err != nil {
		t.Fatal(err)
	}
	if appended {
		t.Error("structurally equal embeds treated as a change")
	}
}

func TestIngest_DisabledRoom(t *testing.T) {
	s := testStore(t)
	ing := New(s, newMemVault(), staticFlags{history: false}, testLogger())
	ctx := context.Background()

	prev, appended, err := ing.Ingest(ctx, payload(t, baseMessage))
	if err != nil || appended || prev != nil {
		t.Fatalf("disabled ingest: prev=%v appended=%v err=%v", prev, appended, err)
	}
	if got, _ := s.Latest(ctx, 10); got != nil {
		t.Errorf("stored despite disabled flag: %+v", got)
	}
}

func TestIngest_CapturesAttachments(t *testing.T) {
	ing, _, v := newIngestor(t)
	ctx := context.Background()

	withAtt := `{"id":"10","channel_id":"200","guild_id":"100","author":{"id":"300"},"pinned":false,"content":"hello","attachments":[{"id":"55","filename":"a.png","url":"http://cdn/a.png"}],"embeds":[]}`
	if _, _, err := ing.Ingest(ctx, payload(t, withAtt)); err != nil {
		t.Fatal(err)
	}
	if !v.captured["10/55"] {
		t.Errorf("attachment not captured: %v", v.captured)
	}
}

func TestApplyPartialUpdate_MergesOntoLatest(t *testing.T) {
	ing, s, _ := newIngestor(t)
	ctx := context.Background()

	ing.Ingest(ctx, payload(t, baseMessage))

	partial := json.RawMessage(`{"id":"10","channel_id":"200","guild_id":"100","content":"edited","edited_timestamp":"2024-05-01T10:00:00+00:00"}`)
	prev, cur, err := ing.ApplyPartialUpdate(ctx, partial)
	if err != nil {
		t.Fatal(err)
	}
	if prev == nil || prev.Version != 0 || prev.Content != "hello" {
		t.Fatalf("prev = %+v", prev)
	}
	if cur.Content != "edited" {
		t.Errorf("cur content = %q", cur.Content)
	}
	// Fields absent from the partial survive from the stored revision.
	if cur.AuthorID != 300 {
		t.Errorf("author lost in merge: %d", cur.AuthorID)
	}

	got, _ := s.Latest(ctx, 10)
	if got.Version != 1 || got.Content != "edited" {
		t.Errorf("stored = %+v", got)
	}
}

func TestApplyPartialUpdate_AlwaysAppends(t *testing.T) {
	ing, s, _ := newIngestor(t)
	ctx := context.Background()

	ing.Ingest(ctx, payload(t, baseMessage))

	// A partial identical to the stored state still appends.
	partial := json.RawMessage(`{"id":"10","content":"hello"}`)
	if _, _, err := ing.ApplyPartialUpdate(ctx, partial); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Latest(ctx, 10)
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestApplyPartialUpdate_UnseenMessage(t *testing.T) {
	ing, s, _ := newIngestor(t)
	ctx := context.Background()

	partial := json.RawMessage(`{"id":"77","channel_id":"200","guild_id":"100","author":{"id":"300"},"content":"first sight"}`)
	prev, cur, err := ing.ApplyPartialUpdate(ctx, partial)
	if err != nil {
		t.Fatal(err)
	}
	if prev != nil {
		t.Errorf("prev = %+v", prev)
	}
	if cur.MessageID != 77 {
		t.Errorf("cur = %+v", cur)
	}
	got, _ := s.Latest(ctx, 77)
	if got == nil || got.Version != 0 {
		t.Errorf("stored = %+v", got)
	}
}

func TestApplyPartialUpdate_NoID(t *testing.T) {
	ing, _, _ := newIngestor(t)
	if _, _, err := ing.ApplyPartialUpdate(context.Background(), json.RawMessage(`{"content":"x"}`)); err == nil {
		t.Fatal("expected error for partial without id")
	}
}
