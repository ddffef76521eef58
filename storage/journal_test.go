package storage

import (
	"path/filepath"
	"testing"

	"github.com/carloslauriano/glomail/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteJournalRecordAndList(t *testing.T) {
	journal, err := NewJournal(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "db", "journal.db"),
	})
	require.NoError(t, err)
	require.NoError(t, journal.Open())
	defer journal.Close()

	first := &Delivery{Sender: "alice@glo-2000.ca", Recipient: "bob@glo-2000.ca", Subject: "oi", Route: RouteLocal, Status: StatusDelivered}
	second := &Delivery{Sender: "alice@glo-2000.ca", Recipient: "x@exemplo.com", Route: RouteRelay, Status: StatusFailed, Detail: "tempo esgotado"}
	other := &Delivery{Sender: "bob@glo-2000.ca", Recipient: "alice@glo-2000.ca", Route: RouteLocal, Status: StatusDelivered}

	for _, d := range []*Delivery{first, second, other} {
		require.NoError(t, journal.RecordDelivery(d))
		assert.NotZero(t, d.ID)
		assert.False(t, d.Created.IsZero())
	}

	deliveries, err := journal.ListDeliveries("alice@glo-2000.ca", 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, second.ID, deliveries[0].ID)
	assert.Equal(t, "tempo esgotado", deliveries[0].Detail)
	assert.Equal(t, RouteRelay, deliveries[0].Route)
	assert.Equal(t, "oi", deliveries[1].Subject)

	deliveries, err = journal.ListDeliveries("alice@glo-2000.ca", 1)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestNewJournalTypes(t *testing.T) {
	journal, err := NewJournal(&config.DatabaseConfig{Type: "none"})
	require.NoError(t, err)
	require.NoError(t, journal.Open())
	assert.NoError(t, journal.RecordDelivery(&Delivery{}))
	deliveries, err := journal.ListDeliveries("x", 5)
	assert.NoError(t, err)
	assert.Empty(t, deliveries)

	_, err = NewJournal(&config.DatabaseConfig{Type: "mongodb"})
	assert.Error(t, err)
}
