package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ErrDecode é retornado quando um texto não representa um envelope válido
var ErrDecode = errors.New("envelope inválido")

// Header identifica o tipo de um envelope
type Header int

// Os valores numéricos seguem os do cliente original (1..8)
const (
	OK Header = iota + 1
	Error
	AuthRegister
	AuthLogin
	InboxReadingRequest
	InboxReadingChoice
	EmailSending
	StatsRequest
)

var headerNames = map[Header]string{
	OK:                  "OK",
	Error:               "ERROR",
	AuthRegister:        "AUTH_REGISTER",
	AuthLogin:           "AUTH_LOGIN",
	InboxReadingRequest: "INBOX_READING_REQUEST",
	InboxReadingChoice:  "INBOX_READING_CHOICE",
	EmailSending:        "EMAIL_SENDING",
	StatsRequest:        "STATS_REQUEST",
}

var headersByName = func() map[string]Header {
	m := make(map[string]Header, len(headerNames))
	for h, name := range headerNames {
		m[name] = h
	}
	return m
}()

// Valid indica se o cabeçalho pertence à enumeração
func (h Header) Valid() bool {
	_, ok := headerNames[h]
	return ok
}

func (h Header) String() string {
	if name, ok := headerNames[h]; ok {
		return name
	}
	return "Header(" + strconv.Itoa(int(h)) + ")"
}

func (h Header) MarshalJSON() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("cabeçalho desconhecido: %d", int(h))
	}
	return json.Marshal(h.String())
}

// UnmarshalJSON aceita o nome do cabeçalho ou o valor inteiro legado
func (h *Header) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		v, ok := headersByName[name]
		if !ok {
			return fmt.Errorf("cabeçalho desconhecido: %q", name)
		}
		*h = v
		return nil
	}

	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("cabeçalho malformado: %s", b)
	}
	if !Header(n).Valid() {
		return fmt.Errorf("cabeçalho desconhecido: %d", n)
	}
	*h = Header(n)
	return nil
}

// Envelope é a unidade do protocolo: {header, data}
type Envelope struct {
	Header Header          `json:"header"`
	Data   json.RawMessage `json:"data"`
}

var emptyObject = json.RawMessage("{}")

// NewEnvelope serializa data; nil vira {}
func NewEnvelope(header Header, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Header: header, Data: emptyObject}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("falha ao serializar dados do envelope: %w", err)
	}
	return Envelope{Header: header, Data: raw}, nil
}

// ErrorEnvelope cria uma resposta ERROR com a descrição do erro
func ErrorEnvelope(err error) Envelope {
	env, _ := NewEnvelope(Error, err.Error())
	return env
}

// Encode produz o texto canônico do envelope
func Encode(header Header, data any) (string, error) {
	env, err := NewEnvelope(header, data)
	if err != nil {
		return "", err
	}
	return env.Encode()
}

// Encode serializa o envelope em texto
func (e Envelope) Encode() (string, error) {
	if len(e.Data) == 0 {
		e.Data = emptyObject
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("falha ao serializar envelope: %w", err)
	}
	return string(b), nil
}

// Decode interpreta o texto recebido do transporte. Qualquer falha é um ErrDecode.
func Decode(text string) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: não é um objeto", ErrDecode)
	}

	rawHeader, ok := fields["header"]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: header ausente", ErrDecode)
	}

	var env Envelope
	if err := env.Header.UnmarshalJSON(rawHeader); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	data, ok := fields["data"]
	switch {
	case ok:
		env.Data = data
	case env.Header == StatsRequest:
		// requisição sem carga útil
		env.Data = emptyObject
	default:
		return Envelope{}, fmt.Errorf("%w: data ausente", ErrDecode)
	}

	return env, nil
}

// Bind decodifica data na estrutura v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return fmt.Errorf("dados ausentes para %s", e.Header)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("dados inválidos para %s: %w", e.Header, err)
	}
	return nil
}
