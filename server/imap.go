package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carloslauriano/glomail/config"
	"github.com/carloslauriano/glomail/logger"
	"github.com/carloslauriano/glomail/storage"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/backendutil"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

const inboxName = "INBOX"

// errReadOnly é retornado por toda operação IMAP que alteraria a caixa
var errReadOnly = errors.New("a caixa de correio é somente leitura")

// IMAPBackend implementa a interface backend.Backend sobre as caixas locais
type IMAPBackend struct {
	store storage.MailboxStore
	auth  *Authenticator
}

// NewIMAPBackend cria um novo backend IMAP
func NewIMAPBackend(store storage.MailboxStore, auth *Authenticator) *IMAPBackend {
	return &IMAPBackend{
		store: store,
		auth:  auth,
	}
}

// Login implementa a autenticação IMAP com as mesmas credenciais do protocolo principal
func (b *IMAPBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	if err := b.auth.Login(username, password); err != nil {
		if !isClientError(err) {
			logger.Error("falha na autenticação IMAP", "username", username, "error", err)
		}
		return nil, backend.ErrInvalidCredentials
	}

	return &IMAPUser{
		backend:  b,
		username: username,
	}, nil
}

// IMAPUser implementa a interface backend.User
type IMAPUser struct {
	backend  *IMAPBackend
	username string
}

// Username retorna o nome do usuário
func (u *IMAPUser) Username() string {
	return u.username
}

// ListMailboxes lista a única caixa do usuário
func (u *IMAPUser) ListMailboxes(subscribed bool) ([]backend.Mailbox, error) {
	return []backend.Mailbox{u.inbox()}, nil
}

// GetMailbox obtém a caixa de entrada; outros nomes não existem
func (u *IMAPUser) GetMailbox(name string) (backend.Mailbox, error) {
	if !strings.EqualFold(name, inboxName) {
		return nil, backend.ErrNoSuchMailbox
	}
	return u.inbox(), nil
}

func (u *IMAPUser) inbox() *IMAPMailbox {
	return &IMAPMailbox{
		store:    u.backend.store,
		username: u.username,
	}
}

func (u *IMAPUser) CreateMailbox(name string) error {
	return errReadOnly
}

func (u *IMAPUser) DeleteMailbox(name string) error {
	return errReadOnly
}

func (u *IMAPUser) RenameMailbox(existingName, newName string) error {
	return errReadOnly
}

// Logout finaliza a sessão
func (u *IMAPUser) Logout() error {
	return nil
}

// IMAPMailbox expõe a caixa de correio do usuário como INBOX.
// O UID de cada mensagem é o seu número, que nunca é reutilizado.
type IMAPMailbox struct {
	store    storage.MailboxStore
	username string
}

// Name retorna o nome da caixa de entrada
func (m *IMAPMailbox) Name() string {
	return inboxName
}

// Info retorna informações sobre a caixa de entrada
func (m *IMAPMailbox) Info() (*imap.MailboxInfo, error) {
	return &imap.MailboxInfo{
		Attributes: []string{imap.NoInferiorsAttr},
		Delimiter:  "/",
		Name:       inboxName,
	}, nil
}

// Status retorna o status da caixa de entrada
func (m *IMAPMailbox) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	messages, err := m.messages()
	if err != nil {
		return nil, err
	}

	status := imap.NewMailboxStatus(inboxName, items)
	status.Flags = []string{}
	status.PermanentFlags = []string{}

	for _, item := range items {
		switch item {
		case imap.StatusMessages:
			status.Messages = uint32(len(messages))
		case imap.StatusRecent:
			status.Recent = 0
		case imap.StatusUnseen:
			status.Unseen = 0
		case imap.StatusUidNext:
			status.UidNext = 1
			if len(messages) > 0 {
				status.UidNext = messages[len(messages)-1].Number + 1
			}
		case imap.StatusUidValidity:
			status.UidValidity = 1
		}
	}

	return status, nil
}

// SetSubscribed não tem efeito
func (m *IMAPMailbox) SetSubscribed(subscribed bool) error {
	return nil
}

// Check não tem efeito
func (m *IMAPMailbox) Check() error {
	return nil
}

func (m *IMAPMailbox) messages() ([]*storage.Message, error) {
	messages, err := m.store.List(m.username)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar mensagens: %w", err)
	}
	return messages, nil
}

// ListMessages lista as mensagens da caixa de entrada
func (m *IMAPMailbox) ListMessages(uid bool, seqSet *imap.SeqSet, items []imap.FetchItem, ch chan<- *imap.Message) error {
	defer close(ch)

	messages, err := m.messages()
	if err != nil {
		return err
	}

	for i, msg := range messages {
		seqNum := uint32(i + 1)
		id := seqNum
		if uid {
			id = msg.Number
		}
		if !seqSet.Contains(id) {
			continue
		}

		fetched, err := fetchMessage(msg, seqNum, items)
		if err != nil {
			logger.Warn("falha ao gerar mensagem IMAP", "user", m.username, "number", msg.Number, "error", err)
			continue
		}
		ch <- fetched
	}

	return nil
}

func fetchMessage(msg *storage.Message, seqNum uint32, items []imap.FetchItem) (*imap.Message, error) {
	raw, err := renderMessage(msg)
	if err != nil {
		return nil, err
	}

	fetched := imap.NewMessage(seqNum, items)
	for _, item := range items {
		switch item {
		case imap.FetchEnvelope:
			hdr, _, _ := headerAndBody(raw)
			fetched.Envelope, _ = backendutil.FetchEnvelope(hdr)
		case imap.FetchBody, imap.FetchBodyStructure:
			hdr, body, _ := headerAndBody(raw)
			fetched.BodyStructure, _ = backendutil.FetchBodyStructure(hdr, body, item == imap.FetchBodyStructure)
		case imap.FetchFlags:
			fetched.Flags = []string{}
		case imap.FetchInternalDate:
			fetched.InternalDate = msg.Date
		case imap.FetchRFC822Size:
			fetched.Size = uint32(len(raw))
		case imap.FetchUid:
			fetched.Uid = msg.Number
		default:
			section, err := imap.ParseBodySectionName(item)
			if err != nil {
				break
			}
			hdr, body, err := headerAndBody(raw)
			if err != nil {
				return nil, err
			}
			l, _ := backendutil.FetchBodySection(hdr, body, section)
			fetched.Body[section] = l
		}
	}

	return fetched, nil
}

func headerAndBody(raw []byte) (textproto.Header, *bufio.Reader, error) {
	body := bufio.NewReader(bytes.NewReader(raw))
	hdr, err := textproto.ReadHeader(body)
	return hdr, body, err
}

// SearchMessages pesquisa mensagens na caixa de entrada
func (m *IMAPMailbox) SearchMessages(uid bool, criteria *imap.SearchCriteria) ([]uint32, error) {
	messages, err := m.messages()
	if err != nil {
		return nil, err
	}

	var results []uint32
	for i, msg := range messages {
		seqNum := uint32(i + 1)

		raw, err := renderMessage(msg)
		if err != nil {
			continue
		}
		e, err := message.Read(bytes.NewReader(raw))
		if err != nil && !message.IsUnknownCharset(err) {
			continue
		}

		ok, err := backendutil.Match(e, seqNum, msg.Number, msg.Date, nil, criteria)
		if err != nil || !ok {
			continue
		}

		if uid {
			results = append(results, msg.Number)
		} else {
			results = append(results, seqNum)
		}
	}

	return results, nil
}

func (m *IMAPMailbox) CreateMessage(flags []string, date time.Time, body imap.Literal) error {
	return errReadOnly
}

func (m *IMAPMailbox) UpdateMessagesFlags(uid bool, seqSet *imap.SeqSet, operation imap.FlagsOp, flags []string) error {
	return errReadOnly
}

func (m *IMAPMailbox) CopyMessages(uid bool, seqSet *imap.SeqSet, destName string) error {
	return errReadOnly
}

// Expunge não remove nada; mensagens nunca são apagadas
func (m *IMAPMailbox) Expunge() error {
	return nil
}

// NewIMAPServer cria o gateway IMAP somente leitura
func NewIMAPServer(cfg *config.Config, be *IMAPBackend) *imapserver.Server {
	s := imapserver.New(be)

	s.Addr = cfg.IMAP.Addr()
	s.AllowInsecureAuth = true

	return s
}
