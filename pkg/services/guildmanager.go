package services

import (
	"context"

	"dario.cat/mergo"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
)

// GuildManagerName is the service name in the gateway registry.
const GuildManagerName = "guild-manager"

// guildRegistryFile holds every registration under the data root.
const guildRegistryFile = "guild_registry.json"

// GuildManager tracks which guilds are onboarded. The registry is one
// document keyed by guild id.
type GuildManager struct {
	store    *guilddata.Store
	registry *guilddata.Document
}

// NewGuildManager builds the guild-manager backend.
func NewGuildManager(store *guilddata.Store) *Backend {
	m := &GuildManager{
		store:    store,
		registry: store.Document(guildRegistryFile),
	}
	return newBackend(GuildManagerName, []toolDef{
		{"register_guild", "Onboard a guild", m.registerGuild},
		{"deregister_guild", "Remove a guild registration", m.deregisterGuild},
		{"list_guilds", "List registered guilds", m.listGuilds},
		{"get_guild_info", "Fetch one guild's registration", m.getGuildInfo},
		{"update_guild_settings", "Merge settings into a registration", m.updateGuildSettings},
		{"get_guild_status", "Report registration and event counts", m.getGuildStatus},
	})
}

func (m *GuildManager) registerGuild(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	entry := map[string]any{
		"guild_id":      guildID,
		"guild_name":    stringArg(args, "guild_name"),
		"registered_by": stringArg(args, "user_id"),
		"registered_at": nowStamp(),
		"settings":      mapArg(args, "settings"),
	}
	err := m.registry.Update(func(obj map[string]any) error {
		guilds, _ := obj["guilds"].(map[string]any)
		if guilds == nil {
			guilds = map[string]any{}
		}
		guilds[guildID] = entry
		obj["guilds"] = guilds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"guild_id": guildID, "registered": true}, nil
}

func (m *GuildManager) deregisterGuild(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	found := false
	err := m.registry.Update(func(obj map[string]any) error {
		guilds, _ := obj["guilds"].(map[string]any)
		if _, ok := guilds[guildID]; ok {
			found = true
			delete(guilds, guildID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound("guild " + guildID + " is not registered")
	}
	return map[string]any{"guild_id": guildID, "deregistered": true}, nil
}

func (m *GuildManager) listGuilds(_ context.Context, _ map[string]any) (map[string]any, error) {
	guilds, err := m.loadGuilds()
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	return map[string]any{"guilds": guilds, "guild_ids": ids, "count": len(guilds)}, nil
}

func (m *GuildManager) getGuildInfo(_ context.Context, args map[string]any) (map[string]any, error) {
	entry, err := m.loadGuild(args)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (m *GuildManager) updateGuildSettings(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	settings := mapArg(args, "settings")
	if len(settings) == 0 {
		return nil, errs.Validation("settings", "must be a non-empty object")
	}
	guildID := stringArg(args, "guild_id")
	found := false
	err := m.registry.Update(func(obj map[string]any) error {
		guilds, _ := obj["guilds"].(map[string]any)
		entry, ok := guilds[guildID].(map[string]any)
		if !ok {
			return nil
		}
		found = true
		existing, _ := entry["settings"].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
		}
		if err := mergo.Merge(&existing, settings, mergo.WithOverride); err != nil {
			return errs.Internal("merge guild settings", err)
		}
		entry["settings"] = existing
		entry["updated_at"] = nowStamp()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound("guild " + guildID + " is not registered")
	}
	return map[string]any{"guild_id": guildID, "settings": settings, "updated": true}, nil
}

func (m *GuildManager) getGuildStatus(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	guilds, err := m.loadGuilds()
	if err != nil {
		return nil, err
	}
	_, registered := guilds[guildID]
	eventIDs, err := listEventDirs(m.store, guildID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"guild_id":    guildID,
		"registered":  registered,
		"event_count": len(eventIDs),
	}, nil
}

func (m *GuildManager) loadGuilds() (map[string]any, error) {
	obj, err := m.registry.Load()
	if err != nil {
		return nil, err
	}
	guilds, _ := obj["guilds"].(map[string]any)
	if guilds == nil {
		guilds = map[string]any{}
	}
	return guilds, nil
}

func (m *GuildManager) loadGuild(args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	guilds, err := m.loadGuilds()
	if err != nil {
		return nil, err
	}
	entry, ok := guilds[guildID].(map[string]any)
	if !ok {
		return nil, errs.NotFound("guild " + guildID + " is not registered")
	}
	return entry, nil
}
