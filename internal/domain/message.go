package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Snowflake is a Discord-style int64 ID. The gateway delivers IDs as JSON
// strings; REST payloads and older archives sometimes carry bare numbers,
// so it unmarshals from both.
type Snowflake int64

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snowflake %q: %w", data, err)
	}
	*s = Snowflake(n)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(s), 10) + `"`), nil
}

func (s Snowflake) Int64() int64   { return int64(s) }
func (s Snowflake) String() string { return strconv.FormatInt(int64(s), 10) }

// MessageVersion is one immutable archived revision of a chat message.
// Versions of a message are numbered 0..k with no gaps; rows are never
// updated in place.
type MessageVersion struct {
	MessageID       int64
	RoomID          int64
	GuildID         int64
	AuthorID        int64
	Version         int64
	Pinned          bool
	EditedTimestamp *string
	Content         string
	Attachments     json.RawMessage
	Embeds          json.RawMessage
	Raw             json.RawMessage
}

// MessagePayload is the parsed view of a raw gateway message object. Raw
// holds the original bytes untouched so the archive preserves fields this
// process does not model.
type MessagePayload struct {
	MessageID       int64
	RoomID          int64
	GuildID         int64
	AuthorID        int64
	Pinned          bool
	EditedTimestamp *string
	Content         string
	Attachments     json.RawMessage
	Embeds          json.RawMessage
	Raw             json.RawMessage
}

type wireMessage struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id"`
	Author    struct {
		ID Snowflake `json:"id"`
	} `json:"author"`
	Pinned          bool            `json:"pinned"`
	EditedTimestamp *string         `json:"edited_timestamp"`
	Content         string          `json:"content"`
	Attachments     json.RawMessage `json:"attachments"`
	Embeds          json.RawMessage `json:"embeds"`
}

// ParseMessage extracts the archived fields from a raw message object.
func ParseMessage(raw json.RawMessage) (*MessagePayload, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse message payload: %w", err)
	}
	if w.ID == 0 {
		return nil, fmt.Errorf("message payload has no id")
	}
	p := &MessagePayload{
		MessageID:       w.ID.Int64(),
		RoomID:          w.ChannelID.Int64(),
		GuildID:         w.GuildID.Int64(),
		AuthorID:        w.Author.ID.Int64(),
		Pinned:          w.Pinned,
		EditedTimestamp: w.EditedTimestamp,
		Content:         w.Content,
		Attachments:     w.Attachments,
		Embeds:          w.Embeds,
		Raw:             raw,
	}
	if p.Attachments == nil {
		p.Attachments = json.RawMessage("[]")
	}
	if p.Embeds == nil {
		p.Embeds = json.RawMessage("[]")
	}
	return p, nil
}

// AsVersion materializes the payload as a stored revision with the given
// version number.
func (p *MessagePayload) AsVersion(version int64) MessageVersion {
	return MessageVersion{
		MessageID:       p.MessageID,
		RoomID:          p.RoomID,
		GuildID:         p.GuildID,
		AuthorID:        p.AuthorID,
		Version:         version,
		Pinned:          p.Pinned,
		EditedTimestamp: p.EditedTimestamp,
		Content:         p.Content,
		Attachments:     p.Attachments,
		Embeds:          p.Embeds,
		Raw:             p.Raw,
	}
}

// Attachment is the slice of a message's attachment entry the vault cares
// about.
type Attachment struct {
	ID          Snowflake `json:"id"`
	Filename    string    `json:"filename"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Size        int64     `json:"size,omitempty"`
}

// ParseAttachments decodes a message's attachments array.
func ParseAttachments(raw json.RawMessage) ([]Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var atts []Attachment
	if err := json.Unmarshal(raw, &atts); err != nil {
		return nil, fmt.Errorf("parse attachments: %w", err)
	}
	return atts, nil
}

// JSONEqual reports whether two JSON documents are structurally equal,
// ignoring key order and whitespace. Invalid JSON falls back to a byte
// comparison.
func JSONEqual(a, b json.RawMessage) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}

// MergeTopLevel lays the top-level keys of partial over a copy of base and
// returns the re-encoded object. Nested objects are replaced wholesale,
// not merged.
func MergeTopLevel(base, partial json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("merge base: %w", err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("merge partial: %w", err)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("merge encode: %w", err)
	}
	return out, nil
}
