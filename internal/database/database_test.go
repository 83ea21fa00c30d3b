package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditwatch/internal/models"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestInitDBMigratesSchema(t *testing.T) {
	err := InitDB(Config{Driver: "sqlite", DBName: "file:init_db_test?mode=memory&cache=shared", LogLevel: "silent"})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, Close())
		DB = nil
	})

	db := GetDB()
	require.NotNil(t, db)
	assert.True(t, db.Migrator().HasTable(&models.NotificationRule{}))
	assert.True(t, db.Migrator().HasTable(&models.AuditEvent{}))
	assert.True(t, db.Migrator().HasTable("login_history"))
	assert.True(t, db.Migrator().HasTable("ip_geo_cache"))
}
