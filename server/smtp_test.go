package server

import (
	"net"
	"strings"
	"testing"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startInboundSMTP(t *testing.T, env *testEnv) string {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Domain: testDomain},
		SMTP:   config.SMTPConfig{MaxMessageBytes: 1 << 20},
	}
	s := NewSMTPServer(cfg, NewSMTPBackend(env.store, env.journal, testDomain))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return l.Addr().String()
}

const inboundMessage = "From: Carol <carol@exemplo.com>\r\n" +
	"To: bob@glo-2000.ca\r\n" +
	"Subject: vindo de fora\r\n" +
	"Date: Fri, 01 Mar 2024 12:00:00 +0000\r\n" +
	"\r\n" +
	"olá bob\r\n"

func TestInboundSMTPDelivers(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob")
	addr := startInboundSMTP(t, env)

	err := smtp.SendMail(addr, nil, "carol@exemplo.com", []string{"bob@glo-2000.ca"}, strings.NewReader(inboundMessage))
	require.NoError(t, err)

	msg, err := env.store.Get("bob", 1)
	require.NoError(t, err)
	assert.Equal(t, "carol@exemplo.com", msg.Source)
	assert.Equal(t, "bob@glo-2000.ca", msg.Destination)
	assert.Equal(t, "vindo de fora", msg.Subject)
	assert.Equal(t, "olá bob\r\n", msg.Body)

	deliveries, err := env.journal.ListDeliveries("carol@exemplo.com", 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, storage.RouteInbound, deliveries[0].Route)
	assert.Equal(t, storage.StatusDelivered, deliveries[0].Status)
}

func TestInboundSMTPRejectsRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob")
	addr := startInboundSMTP(t, env)

	for _, rcpt := range []string{"carol@glo-2000.ca", "bob@exemplo.com"} {
		t.Run(rcpt, func(t *testing.T) {
			err := smtp.SendMail(addr, nil, "x@exemplo.com", []string{rcpt}, strings.NewReader(inboundMessage))
			require.Error(t, err)

			var smtpErr *smtp.SMTPError
			require.ErrorAs(t, err, &smtpErr)
			assert.Equal(t, 550, smtpErr.Code)
		})
	}

	stats, err := env.store.Stat("bob")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)

	lost, err := env.store.ListLost("carol")
	require.NoError(t, err)
	assert.Empty(t, lost)
}
