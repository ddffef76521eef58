package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// DefaultMaxFrameBytes é o tamanho máximo de quadro quando nenhum é configurado
const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge é retornado quando o quadro excede o limite configurado
var ErrFrameTooLarge = errors.New("quadro excede o tamanho máximo")

// FrameConn troca mensagens de texto completas sobre um fluxo.
// Cada quadro é um comprimento de 4 bytes (big-endian) seguido do texto.
type FrameConn struct {
	conn     net.Conn
	r        *bufio.Reader
	maxBytes int

	writeMu sync.Mutex
}

// NewFrameConn envolve conn; maxBytes <= 0 usa DefaultMaxFrameBytes
func NewFrameConn(conn net.Conn, maxBytes int) *FrameConn {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameConn{
		conn:     conn,
		r:        bufio.NewReader(conn),
		maxBytes: maxBytes,
	}
}

// ReadFrame lê um quadro inteiro. io.EOF indica que o par fechou a conexão
// entre dois quadros; um quadro truncado retorna io.ErrUnexpectedEOF.
func (f *FrameConn) ReadFrame() (string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
		return "", err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if uint64(size) > uint64(f.maxBytes) {
		return "", fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, f.maxBytes)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

// WriteFrame envia text como um único quadro
func (f *FrameConn) WriteFrame(text string) error {
	if len(text) > f.maxBytes {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(text), f.maxBytes)
	}

	buf := make([]byte, 4+len(text))
	binary.BigEndian.PutUint32(buf, uint32(len(text)))
	copy(buf[4:], text)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if _, err := f.conn.Write(buf); err != nil {
		return fmt.Errorf("falha ao enviar quadro: %w", err)
	}
	return nil
}

// WriteEnvelope codifica e envia o envelope
func (f *FrameConn) WriteEnvelope(env Envelope) error {
	text, err := env.Encode()
	if err != nil {
		return err
	}
	return f.WriteFrame(text)
}

// ReadEnvelope lê e decodifica um envelope
func (f *FrameConn) ReadEnvelope() (Envelope, error) {
	text, err := f.ReadFrame()
	if err != nil {
		return Envelope{}, err
	}
	return Decode(text)
}

func (f *FrameConn) Close() error {
	return f.conn.Close()
}
