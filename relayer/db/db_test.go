package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapfed/tapfed-node/relayer/store"
)

func TestDB_OpenModes(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		db, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		require.NotNil(t, db)

		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("file-based", func(t *testing.T) {
		dir := t.TempDir()

		db, err := OpenFileDB(dir, "relay_data.db", true)
		require.NoError(t, err)
		require.NotNil(t, db)

		assert.FileExists(t, filepath.Join(dir, "relay_data.db"))

		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("invalid path fails", func(t *testing.T) {
		db, err := OpenFileDB("///invalid", "relay_data.db", true)
		require.ErrorContains(t, err, "failed to prepare database path")
		require.Nil(t, db)
	})
}

func TestDB_FileSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenFileDB(dir, "relay_data.db", true)
	require.NoError(t, err)
	cursor := store.MirrorCursor{ChainID: "chainA", EventType: store.EventTypeCipherStored, LastBlockHeight: 77}
	require.NoError(t, db.Client().Create(&cursor).Error)
	require.NoError(t, db.Close())

	reopened, err := OpenFileDB(dir, "relay_data.db", false)
	require.NoError(t, err)
	defer reopened.Close()

	var got store.MirrorCursor
	require.NoError(t, reopened.Client().Where("chain_id = ?", "chainA").First(&got).Error)
	assert.Equal(t, uint64(77), got.LastBlockHeight)
}

func runSampleInsertSelectTest(t *testing.T, db *DB) {
	record := store.MirroredRecord{
		SourceEventID: "0xevent",
		ChainID:       "chainA",
		EventType:     store.EventTypeCipherStored,
		BlockHeight:   10,
		RoundID:       1,
	}
	require.NoError(t, db.Client().Create(&record).Error)

	var got store.MirroredRecord
	require.NoError(t, db.Client().Where("source_event_id = ?", "0xevent").First(&got).Error)
	assert.Equal(t, uint64(10), got.BlockHeight)
}
