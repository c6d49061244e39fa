package config

import "strconv"

// HistoryEnabled reports whether live capture is on for a room. The room
// override wins over the guild entry, which wins over the archive-wide
// default.
func (c *Config) HistoryEnabled(guildID, roomID int64) bool {
	return c.resolveFlag(guildID, roomID,
		func(r RoomConfig) *bool { return r.HistoryEnabled },
		func(g GuildConfig) *bool { return g.HistoryEnabled },
		c.Archive.HistoryEnabled)
}

// BackfillEnabled reports whether the backfill worker may scan a room.
func (c *Config) BackfillEnabled(guildID, roomID int64) bool {
	return c.resolveFlag(guildID, roomID,
		func(r RoomConfig) *bool { return r.BackfillEnabled },
		func(g GuildConfig) *bool { return g.BackfillEnabled },
		c.Archive.BackfillEnabled)
}

func (c *Config) resolveFlag(guildID, roomID int64, fromRoom func(RoomConfig) *bool, fromGuild func(GuildConfig) *bool, def bool) bool {
	guild, ok := c.Archive.Guilds[strconv.FormatInt(guildID, 10)]
	if !ok {
		return def
	}
	if room, ok := guild.Rooms[strconv.FormatInt(roomID, 10)]; ok {
		if v := fromRoom(room); v != nil {
			return *v
		}
	}
	if v := fromGuild(guild); v != nil {
		return *v
	}
	return def
}

// LogRoute is a resolved audit-notice destination within a guild.
type LogRoute struct {
	RoomID        int64
	MessageDelete bool
	MessageEdit   bool
}

// LogRoutes returns the audit-notice destinations configured for a guild.
func (c *Config) LogRoutes(guildID int64) []LogRoute {
	guild, ok := c.Archive.Guilds[strconv.FormatInt(guildID, 10)]
	if !ok {
		return nil
	}
	routes := make([]LogRoute, 0, len(guild.LogRooms))
	for rid, lr := range guild.LogRooms {
		id, err := strconv.ParseInt(rid, 10, 64)
		if err != nil {
			continue
		}
		routes = append(routes, LogRoute{RoomID: id, MessageDelete: lr.MessageDelete, MessageEdit: lr.MessageEdit})
	}
	return routes
}
