package users

import (
	"strings"
	"time"
)

// User is the canonical account record, keyed internally by server id and
// externally by the Google subject id. Upserted on every successful login.
type User struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GoogleID  string    `gorm:"column:google_id;size:190;not null;uniqueIndex" json:"-"`
	Email     string    `gorm:"column:email;size:320;not null" json:"email"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	AvatarURL string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
