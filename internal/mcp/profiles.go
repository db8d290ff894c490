package mcp

import "strings"

// Tool profile tiers. A client negotiates (or is configured with) one of
// these; tools above the negotiated tier are still listed but refuse to run.
const (
	ProfileCore     = "core"
	ProfileStandard = "standard"
	ProfileFull     = "full"
)

// profileRank orders tiers so a tool registered at a lower tier is also
// available at every higher tier.
var profileRank = map[string]int{
	ProfileCore:     0,
	ProfileStandard: 1,
	ProfileFull:     2,
}

// toolTier maps every registered tool name to the minimum profile it
// requires. Tools absent from this map are treated as core.
var toolTier = map[string]string{
	// core (8): the day-to-day search/memory loop.
	"search":       ProfileCore,
	"search_code":  ProfileCore,
	"search_docs":  ProfileCore,
	"index_status": ProfileCore,
	"remember":     ProfileCore,
	"recall":       ProfileCore,
	"forget":       ProfileCore,
	"list_memories": ProfileCore,

	// standard (+12 = 20): tagging, linking, checkpoints, diagnostics.
	"update_memory_tags":  ProfileStandard,
	"correct_memory":      ProfileStandard,
	"link_memories":       ProfileStandard,
	"get_memory_links":    ProfileStandard,
	"delete_link":         ProfileStandard,
	"checkpoint_export":   ProfileStandard,
	"checkpoint_import":   ProfileStandard,
	"graph_centrality":    ProfileStandard,
	"graph_neighbors":     ProfileStandard,
	"memory_stats":        ProfileStandard,
	"sensitive_scan":      ProfileStandard,

	// full: operational/introspection tools, normally only exercised by
	// power users or the daemon's own tooling rather than routine search.
	"project_info": ProfileFull,
	"config_get":    ProfileFull,
}

// clientProfileHints maps a substring of a client's implementation name to
// the profile it should default to under "auto" negotiation. Left as a
// plain map rather than hard-coded switch cases so new clients can be added
// without touching the dispatch logic.
var clientProfileHints = map[string]string{
	"claude-code": ProfileFull,
	"cursor":      ProfileStandard,
	"cline":       ProfileStandard,
}

// ResolveProfile determines the effective tool profile for a client.
// configured takes precedence unless it is "auto", in which case clientName
// is matched against clientProfileHints; no match defaults to standard.
func ResolveProfile(configured, clientName string) string {
	if configured != "" && configured != "auto" {
		return configured
	}
	lower := strings.ToLower(clientName)
	for substr, profile := range clientProfileHints {
		if strings.Contains(lower, substr) {
			return profile
		}
	}
	return ProfileStandard
}

// toolAllowed reports whether name may run under profile.
func toolAllowed(name, profile string) bool {
	tier, ok := toolTier[name]
	if !ok {
		tier = ProfileCore
	}
	rank, ok := profileRank[profile]
	if !ok {
		rank = profileRank[ProfileStandard]
	}
	return profileRank[tier] <= rank
}

// requiredProfileFor returns the minimum profile name that would unlock
// tool, for use in upgrade-profile error messages.
func requiredProfileFor(name string) string {
	if tier, ok := toolTier[name]; ok {
		return tier
	}
	return ProfileCore
}
