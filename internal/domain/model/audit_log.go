package model

import "time"

// アカウント・認証まわりの操作
type AuditAction string

const (
	AuditActionRegister       AuditAction = "REGISTER"
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionLogout         AuditAction = "LOGOUT"
	AuditActionRefreshReuse   AuditAction = "REFRESH_REUSE"
	AuditActionChangePassword AuditAction = "CHANGE_PASSWORD"
	AuditActionDeleteAccount  AuditAction = "DELETE_ACCOUNT"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionRegister, AuditActionLogin, AuditActionLogout,
		AuditActionRefreshReuse, AuditActionChangePassword, AuditActionDeleteAccount:
		return true
	}
	return false
}

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceUser         AuditResourceType = "user"
	AuditResourceRefreshToken AuditResourceType = "refresh_token"
)

// 監査ログ。
// アカウント削除後も残すため users への外部キーは張らない。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作したユーザーのID
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null" json:"resource_type"`

	//対象のID（refresh tokenはuuid）
	ResourceID string `gorm:"type:varchar(64);not null" json:"resource_id"`

	Detail string `gorm:"type:text" json:"detail"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
