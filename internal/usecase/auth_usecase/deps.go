package auth

import (
	"time"

	"github.com/google/uuid"
)

// UUID 等のIDを作る約束
type IDGenerator interface {
	NewID() string
}

// 現在の時間
type Clock interface {
	Now() time.Time
}

type UUIDGenerator struct{}

func (g UUIDGenerator) NewID() string {
	return uuid.NewString()
}

type SystemClock struct{}

func (c SystemClock) Now() time.Time {
	return time.Now()
}
