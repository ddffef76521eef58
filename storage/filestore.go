package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/carloslauriano/glomail/config"
	"github.com/goccy/go-json"
)

const (
	// credentialFile guarda o hash da senha dentro do diretório do usuário
	credentialFile = "passwd"

	// messageExt é a extensão dos arquivos de mensagem (<número>.json)
	messageExt = ".json"
)

// FileStore implementa MailboxStore no sistema de arquivos:
//
//	<data_dir>/<usuário>/passwd
//	<data_dir>/<usuário>/<n>.json
//	<lost_dir>/<usuário>/<n>.json
type FileStore struct {
	dataDir string
	lostDir string

	locks sync.Map // diretório -> *sync.RWMutex
}

// NewFileStore cria os diretórios base e retorna o armazenamento
func NewFileStore(cfg *config.StorageConfig) (*FileStore, error) {
	for _, dir := range []string{cfg.DataDir, cfg.LostDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("falha ao criar diretório %s: %w", dir, err)
		}
	}

	return &FileStore{
		dataDir: cfg.DataDir,
		lostDir: cfg.LostDir,
	}, nil
}

func (s *FileStore) lock(dir string) *sync.RWMutex {
	mu, _ := s.locks.LoadOrStore(dir, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

func (s *FileStore) userDir(username string) string {
	return filepath.Join(s.dataDir, username)
}

func (s *FileStore) lostUserDir(username string) string {
	return filepath.Join(s.lostDir, username)
}

// CreateAccount cria o diretório do usuário (a caixa vazia) e grava a credencial uma única vez
func (s *FileStore) CreateAccount(username, credential string) error {
	dir := s.userDir(username)
	mu := s.lock(dir)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAccountExists
		}
		return fmt.Errorf("falha ao criar caixa de correio: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, credentialFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("falha ao criar credencial: %w", err)
	}
	if _, err := f.WriteString(credential); err != nil {
		f.Close()
		return fmt.Errorf("falha ao gravar credencial: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("falha ao gravar credencial: %w", err)
	}

	return nil
}

// Credential obtém o hash armazenado para o usuário
func (s *FileStore) Credential(username string) (string, error) {
	dir := s.userDir(username)
	mu := s.lock(dir)
	mu.RLock()
	defer mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(dir, credentialFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrUserNotFound
	} else if err != nil {
		return "", fmt.Errorf("falha ao ler credencial: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Exists indica se o usuário possui caixa de correio
func (s *FileStore) Exists(username string) (bool, error) {
	info, err := os.Stat(s.userDir(username))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("falha ao verificar caixa de correio: %w", err)
	}
	return info.IsDir(), nil
}

// Append grava msg como a próxima mensagem numerada da caixa do usuário
func (s *FileStore) Append(username string, msg *Message) (uint32, error) {
	dir := s.userDir(username)
	ok, err := s.Exists(username)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrMailboxNotFound
	}

	return s.appendTo(dir, msg)
}

// StoreLost grava msg na área de correio perdido do usuário, sem criar caixa de correio
func (s *FileStore) StoreLost(username string, msg *Message) (uint32, error) {
	dir := s.lostUserDir(username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("falha ao criar diretório de correio perdido: %w", err)
	}

	return s.appendTo(dir, msg)
}

// appendTo atribui o número e grava o arquivo sob o mesmo bloqueio
func (s *FileStore) appendTo(dir string, msg *Message) (uint32, error) {
	mu := s.lock(dir)
	mu.Lock()
	defer mu.Unlock()

	numbers, err := messageNumbers(dir)
	if err != nil {
		return 0, err
	}

	next := uint32(1)
	if len(numbers) > 0 {
		next = numbers[len(numbers)-1] + 1
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("falha ao serializar mensagem: %w", err)
	}

	path := filepath.Join(dir, messageFileName(next))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("falha ao criar mensagem: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("falha ao gravar mensagem: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("falha ao gravar mensagem: %w", err)
	}

	msg.Number = next
	msg.Size = int64(len(data))
	return next, nil
}

// List retorna as mensagens do usuário em ordem crescente de número
func (s *FileStore) List(username string) ([]*Message, error) {
	ok, err := s.Exists(username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMailboxNotFound
	}

	return s.listDir(s.userDir(username))
}

// ListLost retorna as mensagens da área de correio perdido do usuário
func (s *FileStore) ListLost(username string) ([]*Message, error) {
	return s.listDir(s.lostUserDir(username))
}

func (s *FileStore) listDir(dir string) ([]*Message, error) {
	mu := s.lock(dir)
	mu.RLock()
	defer mu.RUnlock()

	numbers, err := messageNumbers(dir)
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(numbers))
	for _, n := range numbers {
		msg, err := readMessage(dir, n)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Get obtém a mensagem de número number
func (s *FileStore) Get(username string, number uint32) (*Message, error) {
	ok, err := s.Exists(username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMailboxNotFound
	}

	dir := s.userDir(username)
	mu := s.lock(dir)
	mu.RLock()
	defer mu.RUnlock()

	return readMessage(dir, number)
}

// Stat retorna a quantidade de mensagens e a soma de seus tamanhos em disco
func (s *FileStore) Stat(username string) (Stats, error) {
	ok, err := s.Exists(username)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, ErrMailboxNotFound
	}

	dir := s.userDir(username)
	mu := s.lock(dir)
	mu.RLock()
	defer mu.RUnlock()

	numbers, err := messageNumbers(dir)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Count: len(numbers)}
	for _, n := range numbers {
		info, err := os.Stat(filepath.Join(dir, messageFileName(n)))
		if err != nil {
			return Stats{}, fmt.Errorf("falha ao obter tamanho da mensagem %d: %w", n, err)
		}
		stats.Size += info.Size()
	}

	return stats, nil
}

func messageFileName(number uint32) string {
	return strconv.FormatUint(uint64(number), 10) + messageExt
}

// messageNumbers lista os números das mensagens de dir em ordem crescente.
// Um diretório inexistente equivale a uma caixa vazia.
func messageNumbers(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("falha ao listar mensagens: %w", err)
	}

	var numbers []uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), messageExt)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(name, 10, 32)
		if err != nil || n == 0 {
			continue
		}
		numbers = append(numbers, uint32(n))
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

func readMessage(dir string, number uint32) (*Message, error) {
	data, err := os.ReadFile(filepath.Join(dir, messageFileName(number)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMessageNotFound
	} else if err != nil {
		return nil, fmt.Errorf("falha ao ler mensagem %d: %w", number, err)
	}

	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("falha ao ler dados da mensagem %d: %w", number, err)
	}
	msg.Number = number
	msg.Size = int64(len(data))

	return msg, nil
}
