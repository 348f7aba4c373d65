package model

import "time"

type RefreshToken struct {
	ID        string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID    int64      `json:"userId" gorm:"not null;index"`
	TokenHash string     `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	UserAgent string     `json:"userAgent" gorm:"type:varchar(512);not null;default:''"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null;index"`
	UsedAt    *time.Time `json:"usedAt"`
	RevokedAt *time.Time `json:"revokedAt" gorm:"index"`
	Timestamp Timestamp  `json:"timestamps" gorm:"embedded"`

	User *User `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// 失効しておらず期限内か
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
