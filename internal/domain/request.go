package domain

// Origin tells which trigger shape produced a request.
type Origin string

const (
	// OriginCommand is a structured slash-command invocation.
	OriginCommand Origin = "command"
	// OriginMessage is an ambient chat message (DM, mention, or reply to the bot).
	OriginMessage Origin = "message"
)

// Request is the unified view of one trigger. GuildID and GuildName are
// empty in direct messages.
type Request struct {
	Query       string
	UserID      string
	UserName    string
	ChannelID   string
	ChannelName string
	GuildID     string
	GuildName   string
	Locale      string
	Origin      Origin
}

// Scope is one axis the rate limiter counts usage along.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
	ScopeGuild   Scope = "guild"
)

// Column returns the usage table column holding the scope identifier.
func (s Scope) Column() string {
	switch s {
	case ScopeUser:
		return "user_id"
	case ScopeChannel:
		return "channel_id"
	case ScopeGuild:
		return "guild_id"
	}
	return ""
}

// Label is the wording used in violation messages.
func (s Scope) Label() string {
	switch s {
	case ScopeUser:
		return "Per-user"
	case ScopeChannel:
		return "Per-channel"
	case ScopeGuild:
		return "Per-server"
	}
	return "Per-" + string(s)
}

// ScopeIDs returns the non-empty scope identifiers of r in user, channel,
// guild order.
func (r Request) ScopeIDs() []ScopeID {
	out := make([]ScopeID, 0, 3)
	if r.UserID != "" {
		out = append(out, ScopeID{Scope: ScopeUser, ID: r.UserID})
	}
	if r.ChannelID != "" {
		out = append(out, ScopeID{Scope: ScopeChannel, ID: r.ChannelID})
	}
	if r.GuildID != "" {
		out = append(out, ScopeID{Scope: ScopeGuild, ID: r.GuildID})
	}
	return out
}

// ScopeID pairs a scope with the identifier being counted.
type ScopeID struct {
	Scope Scope
	ID    string
}

// Role of a conversation turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation payload sent to the provider.
type Turn struct {
	Role string
	Text string
}

// HistoryMessage is a prior channel message as seen by the platform.
type HistoryMessage struct {
	AuthorID string
	Content  string
}

// Image is a binary or URL-referenced artifact extracted from a provider
// response. Exactly one of Data or URL is set.
type Image struct {
	Data        []byte
	URL         string
	Filename    string
	Mime        string
	Description string
}

// IsBinary reports whether the image carries inline bytes.
func (i Image) IsBinary() bool { return len(i.Data) > 0 }

// NormalizedResponse is the provider output reduced to what the chat
// platform can deliver.
type NormalizedResponse struct {
	Text             string
	Images           []Image
	SafetyViolations []string
}

// Outcome is what the ledger records after a successful provider call.
type Outcome struct {
	ResponseText     string
	ModelFull        string
	InputTokens      *int
	OutputTokens     *int
	TotalTokens      *int
	ResponseMs       int64
	CompletedAt      *int64 // unix seconds
	SafetyViolations []string
	RequestID        string
	ResponseStatus   string
	ServiceTier      string
	Meta             any
}
