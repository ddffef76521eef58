package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testDomain = "glo-2000.ca"

// mockRelay registra as mensagens entregues ao relay
type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) Deliver(ctx context.Context, msg *storage.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type testEnv struct {
	store      *storage.FileStore
	storageCfg *config.StorageConfig
	journal    storage.Journal
	auth       *Authenticator
	relay      *mockRelay
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := &config.StorageConfig{
		DataDir: filepath.Join(root, "server_data"),
		LostDir: filepath.Join(root, "LOST"),
	}
	store, err := storage.NewFileStore(cfg)
	require.NoError(t, err)

	journal, err := storage.NewJournal(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(root, "journal.db"),
	})
	require.NoError(t, err)
	require.NoError(t, journal.Open())
	t.Cleanup(func() { journal.Close() })

	auth := NewAuthenticator(store)
	auth.HashCost = bcrypt.MinCost

	relay := &mockRelay{}
	return &testEnv{
		store:      store,
		storageCfg: cfg,
		journal:    journal,
		auth:       auth,
		relay:      relay,
		dispatcher: NewDispatcher(store, relay, journal, testDomain),
	}
}

func (e *testEnv) register(t *testing.T, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		require.NoError(t, e.auth.Register(u, "Senha123"))
	}
}

func envelope(t *testing.T, header protocol.Header, data any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(header, data)
	require.NoError(t, err)
	return env
}

func errorText(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	require.Equal(t, protocol.Error, env.Header)
	var text string
	require.NoError(t, env.Bind(&text))
	return text
}
