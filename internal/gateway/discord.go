// Package gateway adapts the Discord gateway and REST API to the archive.
// Every raw dispatch the archive cares about funnels through one choke
// point and onto the event bus; nothing downstream touches discordgo.
package gateway

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"chronicler/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const noticeBodyLimit = 4000

// Discord connects to the gateway, publishes archive events, and serves
// as the HistorySource and NoticeSender for the rest of the process.
type Discord struct {
	token   string
	session *discordgo.Session
	bus     domain.EventBus
	logger  *slog.Logger
}

// Config configures the Discord gateway adapter.
type Config struct {
	Token  string
	Logger *slog.Logger
}

func NewDiscord(cfg Config) *Discord {
	return &Discord{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

// Start connects to Discord and publishes gateway events onto the bus
// until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, eventBus domain.EventBus) error {
	d.bus = eventBus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	d.session = session

	// Single raw-event choke point for the message lifecycle. Working
	// from the raw dispatch keeps the archived payload byte-identical
	// to what Discord sent.
	session.AddHandler(func(s *discordgo.Session, e *discordgo.Event) {
		d.routeRaw(e)
	})

	// Room and guild lifecycle, from the typed dispatches.
	session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		d.publishGuildChanged(g.ID, "guild_available")
	})
	session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelCreate) {
		d.publishRoomChanged(c.Channel, "channel_create")
	})
	session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelUpdate) {
		d.publishRoomChanged(c.Channel, "channel_update")
	})
	session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadCreate) {
		d.publishRoomChanged(t.Channel, "thread_create")
	})
	session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadMembersUpdate) {
		for _, m := range t.AddedMembers {
			if m.UserID == s.State.User.ID {
				d.publishThreadJoined(t.ID, t.GuildID)
				return
			}
		}
	})
	session.AddHandler(func(s *discordgo.Session, r *discordgo.GuildRoleUpdate) {
		d.publishGuildChanged(r.GuildID, "role_update")
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		if m.User != nil && m.User.ID == s.State.User.ID {
			d.publishGuildChanged(m.GuildID, "self_member_update")
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord gateway connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord gateway disconnecting")
	return session.Close()
}

// routeRaw translates raw dispatches into archive events.
func (d *Discord) routeRaw(e *discordgo.Event) {
	switch e.Type {
	case "MESSAGE_CREATE":
		ids, err := parseIDs(e.RawData)
		if err != nil {
			d.logger.Warn("unparseable MESSAGE_CREATE", "err", err)
			return
		}
		d.bus.Publish(domain.GatewayEvent{
			Kind:      domain.EventMessageObserved,
			GuildID:   ids.guild,
			RoomID:    ids.room,
			MessageID: ids.message,
			Payload:   e.RawData,
		})

	case "MESSAGE_UPDATE":
		ids, err := parseIDs(e.RawData)
		if err != nil {
			d.logger.Warn("unparseable MESSAGE_UPDATE", "err", err)
			return
		}
		d.bus.Publish(domain.GatewayEvent{
			Kind:      domain.EventMessageEdited,
			GuildID:   ids.guild,
			RoomID:    ids.room,
			MessageID: ids.message,
			Payload:   e.RawData,
		})

	case "MESSAGE_DELETE":
		ids, err := parseIDs(e.RawData)
		if err != nil {
			d.logger.Warn("unparseable MESSAGE_DELETE", "err", err)
			return
		}
		d.bus.Publish(domain.GatewayEvent{
			Kind:      domain.EventMessageDeleted,
			GuildID:   ids.guild,
			RoomID:    ids.room,
			MessageID: ids.message,
		})

	case "THREAD_UPDATE":
		// Thread updates can reference threads the state cache has never
		// seen. Publish unresolved in that case rather than dropping the
		// signal; the backfill scan re-checks eligibility.
		var head struct {
			ID      domain.Snowflake `json:"id"`
			GuildID domain.Snowflake `json:"guild_id"`
		}
		if err := json.Unmarshal(e.RawData, &head); err != nil || head.ID == 0 {
			d.logger.Warn("unparseable THREAD_UPDATE", "err", err)
			return
		}
		ev := domain.GatewayEvent{
			Kind:    domain.EventRoomChanged,
			GuildID: head.GuildID.Int64(),
			RoomID:  head.ID.Int64(),
			Reason:  "thread_update",
		}
		if c, err := d.session.State.Channel(head.ID.String()); err == nil {
			ev.Room = d.resolveRoom(c)
		}
		d.bus.Publish(ev)
	}
}

func (d *Discord) publishGuildChanged(guildID, reason string) {
	d.bus.Publish(domain.GatewayEvent{
		Kind:    domain.EventGuildChanged,
		GuildID: parseID(guildID),
		Reason:  reason,
	})
}

func (d *Discord) publishRoomChanged(c *discordgo.Channel, reason string) {
	if !isTextRoom(c) {
		return
	}
	d.bus.Publish(domain.GatewayEvent{
		Kind:    domain.EventRoomChanged,
		GuildID: parseID(c.GuildID),
		RoomID:  parseID(c.ID),
		Room:    d.resolveRoom(c),
		Reason:  reason,
	})
}

func (d *Discord) publishThreadJoined(threadID, guildID string) {
	ev := domain.GatewayEvent{
		Kind:    domain.EventRoomChanged,
		GuildID: parseID(guildID),
		RoomID:  parseID(threadID),
		Reason:  "thread_joined",
	}
	if c, err := d.session.State.Channel(threadID); err == nil {
		ev.Room = d.resolveRoom(c)
	}
	d.bus.Publish(ev)
}

// --- domain.HistorySource ---

func (d *Discord) Room(ctx context.Context, roomID int64) (*domain.Room, error) {
	idStr := strconv.FormatInt(roomID, 10)
	c, err := d.session.State.Channel(idStr)
	if err != nil {
		c, err = d.session.Channel(idStr, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("resolve room %d: %w", roomID, err)
		}
	}
	return d.resolveRoom(c), nil
}

func (d *Discord) GuildRooms(ctx context.Context, guildID int64) ([]domain.Room, error) {
	g, err := d.session.State.Guild(strconv.FormatInt(guildID, 10))
	if err != nil {
		return nil, fmt.Errorf("resolve guild %d: %w", guildID, err)
	}

	var rooms []domain.Room
	for _, c := range g.Channels {
		if isTextRoom(c) {
			rooms = append(rooms, *d.resolveRoom(c))
		}
	}
	for _, th := range g.Threads {
		if isTextRoom(th) {
			rooms = append(rooms, *d.resolveRoom(th))
		}
	}
	return rooms, nil
}

// MessagesAfter fetches one page of history in ascending ID order. The
// REST payload is re-serialized by discordgo, so backfilled raw
// payloads are structurally, not byte, identical to live ones.
func (d *Discord) MessagesAfter(ctx context.Context, roomID, afterID int64, limit int) ([]json.RawMessage, error) {
	after := ""
	if afterID > 0 {
		after = strconv.FormatInt(afterID, 10)
	}

	msgs, err := d.session.ChannelMessages(strconv.FormatInt(roomID, 10), limit, "", after, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch history for room %d: %w", roomID, err)
	}

	slices.SortFunc(msgs, func(a, b *discordgo.Message) int {
		return cmp.Compare(parseID(a.ID), parseID(b.ID))
	})

	raws := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			d.logger.Warn("cannot encode history message", "message_id", m.ID, "err", err)
			continue
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// --- domain.NoticeSender ---

// SendNotice posts an audit notice. The REST response is republished on
// the bus with FromSelf set, so the router never archives the delivery
// twice once the gateway dispatch for it arrives.
func (d *Discord) SendNotice(ctx context.Context, roomID int64, n domain.Notice) error {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: truncate(n.Body, noticeBodyLimit),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}

	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	var open []io.Closer
	defer func() {
		for _, c := range open {
			c.Close()
		}
	}()
	for _, file := range n.Files {
		fh, err := os.Open(file.Path)
		if err != nil {
			d.logger.Warn("cannot reattach vault file", "path", file.Path, "err", err)
			continue
		}
		open = append(open, fh)
		send.Files = append(send.Files, &discordgo.File{Name: file.Name, Reader: fh})
	}

	msg, err := d.session.ChannelMessageSendComplex(strconv.FormatInt(roomID, 10), send, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send notice to room %d: %w", roomID, err)
	}

	if raw, err := json.Marshal(msg); err == nil {
		d.bus.Publish(domain.GatewayEvent{
			Kind:      domain.EventMessageObserved,
			GuildID:   parseID(msg.GuildID),
			RoomID:    parseID(msg.ChannelID),
			MessageID: parseID(msg.ID),
			Payload:   raw,
			FromSelf:  true,
		})
	}
	return nil
}

// --- helpers ---

func (d *Discord) resolveRoom(c *discordgo.Channel) *domain.Room {
	canRead := false
	perms, err := d.session.State.UserChannelPermissions(d.session.State.User.ID, c.ID)
	if err == nil {
		canRead = perms&discordgo.PermissionViewChannel != 0 &&
			perms&discordgo.PermissionReadMessageHistory != 0
	}
	return &domain.Room{
		ID:             parseID(c.ID),
		GuildID:        parseID(c.GuildID),
		Name:           c.Name,
		CanReadHistory: canRead,
	}
}

func isTextRoom(c *discordgo.Channel) bool {
	switch c.Type {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}

type messageIDs struct {
	message, room, guild int64
}

func parseIDs(raw json.RawMessage) (messageIDs, error) {
	var head struct {
		ID        domain.Snowflake `json:"id"`
		ChannelID domain.Snowflake `json:"channel_id"`
		GuildID   domain.Snowflake `json:"guild_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return messageIDs{}, err
	}
	if head.ID == 0 {
		return messageIDs{}, fmt.Errorf("payload has no id")
	}
	return messageIDs{
		message: head.ID.Int64(),
		room:    head.ChannelID.Int64(),
		guild:   head.GuildID.Int64(),
	}, nil
}

func parseID(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	// The byte cut can land inside a multi-byte rune; back up to a
	// boundary so the embed never carries invalid UTF-8.
	for len(cut) > 0 && !utf8.RuneStart(s[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	if idx := strings.LastIndex(cut, "\n"); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
