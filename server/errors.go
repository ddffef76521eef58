package server

import "errors"

// ErrServerClosed é retornado por Reactor.Serve após o cancelamento do contexto
var ErrServerClosed = errors.New("servidor encerrado")

// Erros de autenticação
var (
	ErrUsernameTaken    = errors.New("o nome de usuário já está em uso")
	ErrInvalidUsername  = errors.New("o nome de usuário deve conter apenas letras, dígitos e . _ + - (sem espaços)")
	ErrWeakPassword     = errors.New("a senha deve conter ao menos 1 maiúscula, 1 minúscula e 1 dígito")
	ErrPasswordTooLong  = errors.New("a senha não pode exceder 72 bytes")
	ErrUnknownUser      = errors.New("nome de usuário incorreto")
	ErrWrongPassword    = errors.New("senha incorreta")
	ErrNotAuthenticated = errors.New("autenticação necessária")
)

// Erros de requisição
var (
	ErrInvalidRequest   = errors.New("requisição inválida")
	ErrInvalidSelection = errors.New("o número do e-mail escolhido é inválido")
	ErrReplyTooLarge    = errors.New("a resposta excede o tamanho máximo; escolha menos mensagens")
	ErrInvalidAddress   = errors.New("endereço de e-mail inválido")
	ErrUnknownSender    = errors.New("o endereço de origem não existe")
	ErrForgedSender     = errors.New("o endereço de origem não pertence à sessão")
	ErrUnknownRecipient = errors.New("o endereço de destino não existe")
	ErrRelayFailure     = errors.New("a mensagem não pôde ser enviada")
	ErrRelayTimeout     = errors.New("a conexão com o servidor SMTP não pôde ser estabelecida a tempo")
	ErrInternal         = errors.New("erro interno do servidor")
)

// clientErrors são repassados ao cliente com sua descrição; os demais viram ErrInternal
var clientErrors = []error{
	ErrUsernameTaken, ErrInvalidUsername, ErrWeakPassword, ErrPasswordTooLong,
	ErrUnknownUser, ErrWrongPassword, ErrNotAuthenticated,
	ErrInvalidRequest, ErrInvalidSelection, ErrReplyTooLarge, ErrInvalidAddress, ErrUnknownSender,
	ErrForgedSender, ErrUnknownRecipient, ErrRelayFailure, ErrRelayTimeout,
}

func isClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
