// Package domain defines the persistence models for the usage ledger and the
// value types that flow through the ask pipeline. The models are mapped with
// GORM and form the audit trail every rate-limit decision is computed from.
package domain

import "time"

// UsageRecord is one row per accepted request. It is inserted before the
// provider call (identity + query) and updated exactly once afterwards with
// either the success outcome or the failure details.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), generated before insert.
//   - UserID / ChannelID / GuildID: scope identifiers, each paired with
//     CreatedAt in an index so sliding-window counts stay cheap.
//   - GuildID is empty for direct messages.
//   - Query: the trimmed user query.
//   - Post-call fields are zero until the single update lands.
type UsageRecord struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_usage_user,priority:1"`
	UserName    string `json:"user_name"    gorm:"type:varchar(255)"`
	ChannelID   string `json:"channel_id"   gorm:"type:varchar(64);index:idx_usage_channel,priority:1"`
	ChannelName string `json:"channel_name" gorm:"type:varchar(255)"`
	GuildID     string `json:"guild_id"     gorm:"type:varchar(64);index:idx_usage_guild,priority:1"`
	GuildName   string `json:"guild_name"   gorm:"type:varchar(255)"`
	Origin      string `json:"origin"       gorm:"type:varchar(16);not null;default:'command'"`
	Locale      string `json:"locale"       gorm:"type:varchar(16)"`
	Query       string `json:"query"        gorm:"type:text;not null"`

	ResponseText     string     `json:"response_text"           gorm:"type:text"`
	Model            string     `json:"model"                   gorm:"type:varchar(64)"`
	ModelFull        string     `json:"model_full"              gorm:"type:varchar(128)"`
	TokensUsed       *int       `json:"tokens_used,omitempty"`
	InputTokens      *int       `json:"input_tokens,omitempty"`
	OutputTokens     *int       `json:"output_tokens,omitempty"`
	TotalTokens      *int       `json:"total_tokens,omitempty"`
	ResponseMs       *int64     `json:"response_ms,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	SafetyViolations string     `json:"safety_violations"       gorm:"type:varchar(512)"`
	ErrorFlag        bool       `json:"error_flag"              gorm:"not null;default:false"`
	RequestID        string     `json:"request_id"              gorm:"type:varchar(128)"`
	ResponseMeta     string     `json:"-"                       gorm:"type:text"`
	ResponseStatus   string     `json:"response_status"         gorm:"type:varchar(32)"`
	ServiceTier      string     `json:"service_tier"            gorm:"type:varchar(32)"`

	CreatedAt time.Time `json:"created_at" gorm:"index;index:idx_usage_user,priority:2;index:idx_usage_channel,priority:2;index:idx_usage_guild,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	// Images are the binary artifacts stored for this request. Rows are
	// cascade-deleted with their parent.
	Images []UsageImage `json:"images,omitempty" gorm:"foreignKey:UsageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "usage" }

// UsageImage is a child row holding one binary image produced for a request.
// The bytes are stored opaque; Meta is a small JSON blob with the description
// and mime type.
type UsageImage struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UsageID   string    `json:"usage_id"   gorm:"type:char(36);not null;index"`
	Filename  string    `json:"filename"   gorm:"type:varchar(255);not null"`
	Mime      string    `json:"mime"       gorm:"type:varchar(64);not null;default:'image/png'"`
	Data      []byte    `json:"-"`
	Meta      string    `json:"meta"       gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for UsageImage.
func (UsageImage) TableName() string { return "usage_images" }
