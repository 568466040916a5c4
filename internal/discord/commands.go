package discord

// Option types mirrored from the collaborator's schema.
const (
	OptionString  = 3
	OptionInteger = 4
	OptionUser    = 6
)

// DefaultCommands is the canonical command-definition set whose hash the
// sync gate compares across restarts. Order matters: reordering is a
// schema change and triggers a re-registration.
func DefaultCommands() []Command {
	return []Command{
		{
			Name:        "stats",
			Description: "Show killfeed statistics for a player",
			Options: []CommandOption{
				{Type: OptionString, Name: "player", Description: "Player name or ID", Required: true},
				{Type: OptionString, Name: "server", Description: "Server to query (default: all)"},
			},
		},
		{
			Name:        "leaderboard",
			Description: "Show a leaderboard view",
			Options: []CommandOption{
				{Type: OptionString, Name: "view", Description: "kills, kdr, streak, longest_streak, weapons or factions", Required: true},
				{Type: OptionString, Name: "server", Description: "Server scope (default: all)"},
			},
		},
		{
			Name:        "rivalry",
			Description: "Show a player's biggest rivalries",
			Options: []CommandOption{
				{Type: OptionString, Name: "player", Description: "Player name or ID", Required: true},
			},
		},
		{
			Name:        "servers",
			Description: "List tracked servers and their ingestion status",
		},
	}
}
