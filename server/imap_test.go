package server

import (
	"context"
	"io"
	"testing"

	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imapInbox(t *testing.T, env *testEnv, username string) backend.Mailbox {
	t.Helper()
	be := NewIMAPBackend(env.store, env.auth)
	user, err := be.Login(nil, username, "Senha123")
	require.NoError(t, err)

	mailboxes, err := user.ListMailboxes(false)
	require.NoError(t, err)
	require.Len(t, mailboxes, 1)
	assert.Equal(t, "INBOX", mailboxes[0].Name())

	mbox, err := user.GetMailbox("inbox")
	require.NoError(t, err)
	return mbox
}

func fillInbox(t *testing.T, env *testEnv, subjects ...string) {
	t.Helper()
	for _, subject := range subjects {
		require.NoError(t, env.dispatcher.Send(context.Background(), "alice", &storage.Message{
			Destination: "bob@glo-2000.ca",
			Subject:     subject,
			Body:        "corpo de " + subject,
		}))
	}
}

func collect(t *testing.T, mbox backend.Mailbox, uid bool, set string, items []imap.FetchItem) []*imap.Message {
	t.Helper()
	seqSet, err := imap.ParseSeqSet(set)
	require.NoError(t, err)

	ch := make(chan *imap.Message, 16)
	require.NoError(t, mbox.ListMessages(uid, seqSet, items, ch))

	var messages []*imap.Message
	for msg := range ch {
		messages = append(messages, msg)
	}
	return messages
}

func TestIMAPLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob")
	be := NewIMAPBackend(env.store, env.auth)

	_, err := be.Login(nil, "bob", "errada")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	user, err := be.Login(nil, "bob", "Senha123")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username())

	_, err = user.GetMailbox("Sent")
	assert.ErrorIs(t, err, backend.ErrNoSuchMailbox)
	assert.Error(t, user.CreateMailbox("Arquivo"))
}

func TestIMAPStatusAndFetch(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "bob")
	fillInbox(t, env, "um", "dois")

	mbox := imapInbox(t, env, "bob")

	status, err := mbox.Status([]imap.StatusItem{imap.StatusMessages, imap.StatusUidNext, imap.StatusUidValidity})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), status.Messages)
	assert.Equal(t, uint32(3), status.UidNext)
	assert.Equal(t, uint32(1), status.UidValidity)

	section, err := imap.ParseBodySectionName("BODY[TEXT]")
	require.NoError(t, err)

	messages := collect(t, mbox, false, "1:*", []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem(),
	})
	require.Len(t, messages, 2)

	assert.Equal(t, uint32(1), messages[0].SeqNum)
	assert.Equal(t, uint32(1), messages[0].Uid)
	assert.Equal(t, "um", messages[0].Envelope.Subject)
	assert.Positive(t, messages[0].Size)

	body := messages[1].GetBody(section)
	require.NotNil(t, body)
	text, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "corpo de dois")
}

func TestIMAPFetchByUID(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "bob")
	fillInbox(t, env, "um", "dois", "tres")

	mbox := imapInbox(t, env, "bob")
	messages := collect(t, mbox, true, "3", []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid})
	require.Len(t, messages, 1)
	assert.Equal(t, uint32(3), messages[0].Uid)
	assert.Equal(t, "tres", messages[0].Envelope.Subject)
}

func TestIMAPSearch(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "bob")
	fillInbox(t, env, "reunião", "almoço", "reunião de novo")

	mbox := imapInbox(t, env, "bob")

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", "reunião")
	ids, err := mbox.SearchMessages(false, criteria)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, ids)

	criteria = imap.NewSearchCriteria()
	criteria.Body = []string{"almoço"}
	ids, err = mbox.SearchMessages(true, criteria)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, ids)
}

func TestIMAPIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "bob")
	fillInbox(t, env, "um")

	mbox := imapInbox(t, env, "bob")
	seqSet, err := imap.ParseSeqSet("1")
	require.NoError(t, err)

	assert.ErrorIs(t, mbox.UpdateMessagesFlags(false, seqSet, imap.AddFlags, []string{imap.DeletedFlag}), errReadOnly)
	assert.ErrorIs(t, mbox.CopyMessages(false, seqSet, "INBOX"), errReadOnly)
	assert.NoError(t, mbox.Expunge())

	stats, err := env.store.Stat("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}
