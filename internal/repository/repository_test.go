package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgProgram{},
		&models.Setting{},
	)
	require.NoError(t, err)

	return db
}

func createTestChannel(t *testing.T, db *gorm.DB, number int, name string) *models.Channel {
	t.Helper()
	ch := &models.Channel{Number: number, Name: name}
	require.NoError(t, db.Create(ch).Error)
	return ch
}

func createTestStream(t *testing.T, db *gorm.DB, channelID, url string) *models.Stream {
	t.Helper()
	s := &models.Stream{ChannelID: channelID, URL: url, Kind: models.StreamKindHTTP}
	require.NoError(t, db.Create(s).Error)
	return s
}

func createTestEpgSource(t *testing.T, db *gorm.DB, name string) *models.EpgSource {
	t.Helper()
	src := &models.EpgSource{Name: name, URL: "http://example.com/" + name + ".xml"}
	require.NoError(t, db.Create(src).Error)
	return src
}
