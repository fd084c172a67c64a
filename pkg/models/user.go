package models

import "time"

// Role represents a user's service tier.
type Role string

const (
	// RoleFree is the default tier, bounded by the daily quota.
	RoleFree Role = "free"
	// RolePremium is a paid tier with unlimited downloads until expiry.
	RolePremium Role = "premium"
	// RoleAdmin is an operator account.
	RoleAdmin Role = "admin"
	// RoleOwner is the bot owner.
	RoleOwner Role = "owner"
)

// IsValid checks if the role is a known Role.
func (r Role) IsValid() bool {
	switch r {
	case RoleFree, RolePremium, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Unlimited reports whether the role bypasses the daily quota.
func (r Role) Unlimited() bool {
	return r == RolePremium || r == RoleAdmin || r == RoleOwner
}

// User is a bot user record.
//
// DownloadsToday and LastDownloadDate implement the daily quota: the
// counter is reset whenever the stored date differs from today (UTC).
// Credential holds the exported durable session string produced by a
// completed login handshake; it is never serialized outward.
type User struct {
	TelegramID       int64      `gorm:"primaryKey" json:"telegram_id"`
	Role             Role       `gorm:"default:free;size:50" json:"role"`
	DownloadsToday   int        `gorm:"default:0" json:"downloads_today"`
	LastDownloadDate string     `gorm:"size:10" json:"last_download_date"`
	AgreedTerms      bool       `gorm:"default:false" json:"agreed_terms"`
	Credential       string     `gorm:"type:text" json:"-"`
	PremiumExpiry    *time.Time `json:"premium_expiry,omitempty"`
	Banned           bool       `gorm:"default:false" json:"banned"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// HasCredential reports whether a durable session credential is stored.
func (u *User) HasCredential() bool {
	return u.Credential != ""
}

// PremiumExpired reports whether a premium role has lapsed at the given time.
func (u *User) PremiumExpired(now time.Time) bool {
	return u.Role == RolePremium && u.PremiumExpiry != nil && u.PremiumExpiry.Before(now)
}
