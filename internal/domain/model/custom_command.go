package model

import "time"

type CommandType string

const (
	CommandTypeSystemControl  CommandType = "SYSTEM_CONTROL"
	CommandTypeFileOperation  CommandType = "FILE_OPERATION"
	CommandTypeTextProcessing CommandType = "TEXT_PROCESSING"
	CommandTypeApplication    CommandType = "APPLICATION"
	CommandTypeMedia          CommandType = "MEDIA"
	CommandTypeQuery          CommandType = "QUERY"
	CommandTypeCustom         CommandType = "CUSTOM"
)

// 定義済みの種類か
func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeSystemControl, CommandTypeFileOperation, CommandTypeTextProcessing,
		CommandTypeApplication, CommandTypeMedia, CommandTypeQuery, CommandTypeCustom:
		return true
	}
	return false
}

type CommandStatus string

const (
	CommandStatusActive     CommandStatus = "ACTIVE"
	CommandStatusInactive   CommandStatus = "INACTIVE"
	CommandStatusDeprecated CommandStatus = "DEPRECATED"
)

func (s CommandStatus) Valid() bool {
	switch s {
	case CommandStatusActive, CommandStatusInactive, CommandStatusDeprecated:
		return true
	}
	return false
}

// ユーザーが作成した音声コマンド
type CustomCommand struct {
	ID            int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64         `gorm:"not null;index" json:"userId"`
	Name          string        `gorm:"type:varchar(100);not null" json:"name"`
	Description   string        `gorm:"type:varchar(500)" json:"description"`
	TriggerPhrase string        `gorm:"type:text;not null" json:"triggerPhrase"`
	CommandScript string        `gorm:"type:text;not null" json:"commandScript"`
	CommandType   CommandType   `gorm:"type:varchar(30);not null;default:'SYSTEM_CONTROL'" json:"commandType"`
	Status        CommandStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	IsPublic      bool          `gorm:"not null;default:false;index" json:"isPublic"`
	UsageCount    int64         `gorm:"not null;default:0" json:"usageCount"`
	CreatedAt     time.Time     `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"not null;autoUpdateTime" json:"updatedAt"`

	// 所有者のいないコマンドはDBで拒否する
	User *User `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (CustomCommand) TableName() string {
	return "custom_commands"
}
