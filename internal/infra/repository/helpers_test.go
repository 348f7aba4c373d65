package repository_test

import (
	"context"
	"testing"

	"echocommand/internal/domain/model"
	"echocommand/internal/infra/db"
	infraRepo "echocommand/internal/infra/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func seedUser(t *testing.T, gdb *gorm.DB, username string) *model.User {
	t.Helper()

	u := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Role:         model.RoleUser,
	}
	require.NoError(t, infraRepo.NewUserGormRepository(gdb).Create(context.Background(), u))
	return u
}

func seedCommand(t *testing.T, gdb *gorm.DB, userID int64, name string, public bool, status model.CommandStatus) model.CustomCommand {
	t.Helper()

	c, err := infraRepo.NewCommandGormRepository(gdb).Create(context.Background(), model.CustomCommand{
		UserID:        userID,
		Name:          name,
		TriggerPhrase: "say " + name,
		CommandScript: "run()",
		CommandType:   model.CommandTypeSystemControl,
		Status:        status,
		IsPublic:      public,
	})
	require.NoError(t, err)
	return c
}
