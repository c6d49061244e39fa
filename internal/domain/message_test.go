package domain

import (
	"encoding/json"
	"testing"
)

func TestSnowflake_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Snowflake
		wantErr bool
	}{
		{"string", `"123456789012345678"`, 123456789012345678, false},
		{"number", `123456789012345678`, 123456789012345678, false},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"garbage", `"abc"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Snowflake
			err := json.Unmarshal([]byte(tt.input), &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s != tt.want {
				t.Errorf("got %d, want %d", s, tt.want)
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "111",
		"channel_id": "222",
		"guild_id": "333",
		"author": {"id": "444", "username": "alice"},
		"pinned": true,
		"edited_timestamp": "2024-05-01T10:00:00+00:00",
		"content": "hello",
		"attachments": [{"id": "555", "filename": "a.png", "url": "http://x/a.png"}],
		"embeds": []
	}`)

	p, err := ParseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.MessageID != 111 || p.RoomID != 222 || p.GuildID != 333 || p.AuthorID != 444 {
		t.Errorf("unexpected IDs: %+v", p)
	}
	if !p.Pinned {
		t.Error("expected pinned")
	}
	if p.EditedTimestamp == nil || *p.EditedTimestamp != "2024-05-01T10:00:00+00:00" {
		t.Errorf("edited_timestamp = %v", p.EditedTimestamp)
	}
	if p.Content != "hello" {
		t.Errorf("content = %q", p.Content)
	}

	atts, err := ParseAttachments(p.Attachments)
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].ID != 555 || atts[0].Filename != "a.png" {
		t.Errorf("attachments = %+v", atts)
	}
}

func TestParseMessage_MissingOptionalFields(t *testing.T) {
	p, err := ParseMessage(json.RawMessage(`{"id": "1", "channel_id": "2", "author": {"id": "3"}, "content": ""}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.EditedTimestamp != nil {
		t.Error("expected nil edited_timestamp")
	}
	if string(p.Attachments) != "[]" || string(p.Embeds) != "[]" {
		t.Errorf("expected empty arrays, got %s / %s", p.Attachments, p.Embeds)
	}
	if p.GuildID != 0 {
		t.Errorf("guild_id = %d", p.GuildID)
	}
}

func TestParseMessage_NoID(t *testing.T) {
	if _, err := ParseMessage(json.RawMessage(`{"content": "x"}`)); err == nil {
		t.Fatal("expected error for payload without id")
	}
}

func TestJSONEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", `{"a":1}`, `{"a":1}`, true},
		{"key order", `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"whitespace", `[1, 2]`, `[1,2]`, true},
		{"different value", `{"a":1}`, `{"a":2}`, false},
		{"different shape", `[]`, `{}`, false},
		{"both empty", ``, ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JSONEqual(json.RawMessage(tt.a), json.RawMessage(tt.b))
			if got != tt.want {
				t.Errorf("JSONEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeTopLevel(t *testing.T) {
	base := json.RawMessage(`{"id":"1","content":"old","pinned":false,"embeds":[{"title":"t"}]}`)
	partial := json.RawMessage(`{"id":"1","content":"new","edited_timestamp":"2024-05-01T10:00:00+00:00"}`)

	merged, err := MergeTopLevel(base, partial)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(merged, &m); err != nil {
		t.Fatal(err)
	}
	if m["content"] != "new" {
		t.Errorf("content = %v", m["content"])
	}
	if m["pinned"] != false {
		t.Errorf("pinned dropped: %v", m["pinned"])
	}
	if m["edited_timestamp"] != "2024-05-01T10:00:00+00:00" {
		t.Errorf("edited_timestamp = %v", m["edited_timestamp"])
	}
	if _, ok := m["embeds"]; !ok {
		t.Error("embeds dropped from base")
	}
}

func TestMergeTopLevel_EmptyBase(t *testing.T) {
	merged, err := MergeTopLevel(nil, json.RawMessage(`{"id":"9","content":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !JSONEqual(merged, json.RawMessage(`{"id":"9","content":"x"}`)) {
		t.Errorf("merged = %s", merged)
	}
}
