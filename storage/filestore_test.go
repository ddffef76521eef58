package storage

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*FileStore, *config.StorageConfig) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.StorageConfig{
		DataDir: filepath.Join(root, "server_data"),
		LostDir: filepath.Join(root, "LOST"),
	}
	store, err := NewFileStore(cfg)
	require.NoError(t, err)
	return store, cfg
}

func newMessage(subject, body string) *Message {
	return &Message{
		Source:      "alice@glo-2000.ca",
		Destination: "bob@glo-2000.ca",
		Subject:     subject,
		Body:        body,
		Date:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAccountOnce(t *testing.T) {
	store, cfg := newTestStore(t)

	require.NoError(t, store.CreateAccount("alice", "hash-1"))
	assert.ErrorIs(t, store.CreateAccount("alice", "hash-2"), ErrAccountExists)

	cred, err := store.Credential("alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", cred)

	ok, err := store.Exists("alice")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.FileExists(t, filepath.Join(cfg.DataDir, "alice", "passwd"))
}

func TestCredentialUnknownUser(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Credential("ninguem")
	assert.ErrorIs(t, err, ErrUserNotFound)

	ok, err := store.Exists("ninguem")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendNumbersSequentially(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "h"))

	for i := 1; i <= 3; i++ {
		msg := newMessage("assunto", "corpo")
		n, err := store.Append("bob", msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), n)
		assert.Equal(t, uint32(i), msg.Number)
	}

	messages, err := store.List("bob")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, uint32(i+1), msg.Number)
	}
}

func TestAppendUnknownMailbox(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Append("bob", newMessage("a", "b"))
	assert.ErrorIs(t, err, ErrMailboxNotFound)
}

func TestMessageRoundTripPreservesDelimiters(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "h"))

	original := newMessage("De: alguém\nSubject: falso", "linha 1\n\nFrom: x\r\n.\n{\"json\": true}")
	n, err := store.Append("bob", original)
	require.NoError(t, err)

	got, err := store.Get("bob", n)
	require.NoError(t, err)
	assert.Equal(t, original.Source, got.Source)
	assert.Equal(t, original.Destination, got.Destination)
	assert.Equal(t, original.Subject, got.Subject)
	assert.Equal(t, original.Body, got.Body)
	assert.True(t, original.Date.Equal(got.Date))

	_, err = store.Get("bob", n+1)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListEmptyMailbox(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateAccount("alice", "h"))

	messages, err := store.List("alice")
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = store.List("ninguem")
	assert.ErrorIs(t, err, ErrMailboxNotFound)
}

func TestStatMatchesFilesOnDisk(t *testing.T) {
	store, cfg := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "um-hash-qualquer"))

	stats, err := store.Stat("bob")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	_, err = store.Append("bob", newMessage("um", "corpo curto"))
	require.NoError(t, err)
	_, err = store.Append("bob", newMessage("dois", "um corpo um pouco mais longo"))
	require.NoError(t, err)

	var want int64
	for _, name := range []string{"1.json", "2.json"} {
		info, err := os.Stat(filepath.Join(cfg.DataDir, "bob", name))
		require.NoError(t, err)
		want += info.Size()
	}

	stats, err = store.Stat("bob")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, want, stats.Size)

	_, err = store.Stat("ninguem")
	assert.ErrorIs(t, err, ErrMailboxNotFound)
}

func TestStoreLostDoesNotCreateMailbox(t *testing.T) {
	store, cfg := newTestStore(t)

	n, err := store.StoreLost("carol", newMessage("perdida", "corpo"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	n, err = store.StoreLost("carol", newMessage("perdida 2", "corpo"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	ok, err := store.Exists("carol")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(cfg.DataDir, "carol"))

	lost, err := store.ListLost("carol")
	require.NoError(t, err)
	require.Len(t, lost, 2)
	assert.Equal(t, "perdida", lost[0].Subject)
}

func TestNumbersSkipForeignFiles(t *testing.T) {
	store, cfg := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "h"))
	dir := filepath.Join(cfg.DataDir, "bob")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notas.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.json"), []byte("{}"), 0o644))

	n, err := store.Append("bob", newMessage("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	stats, err := store.Stat("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestNumbersNeverReusedAfterGap(t *testing.T) {
	store, cfg := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "h"))

	for i := 0; i < 3; i++ {
		_, err := store.Append("bob", newMessage("a", "b"))
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(filepath.Join(cfg.DataDir, "bob", "2.json")))

	n, err := store.Append("bob", newMessage("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
}

func TestConcurrentAppendsGetUniqueNumbers(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateAccount("bob", "h"))

	const writers = 20
	numbers := make([]uint32, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := store.Append("bob", newMessage("concorrente", "corpo"))
			assert.NoError(t, err)
			numbers[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, n := range numbers {
		assert.Equal(t, uint32(i+1), n)
	}
}
