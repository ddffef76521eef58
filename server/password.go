package server

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// legacyHashLen é o tamanho do SHA-384 hexadecimal gravado pela versão anterior do servidor
const legacyHashLen = sha512.Size384 * 2

// HashPassword gera o hash bcrypt da senha
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	} else if err != nil {
		return "", fmt.Errorf("falha ao gerar hash da senha: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compara a senha com o hash armazenado (bcrypt ou SHA-384 legado)
func VerifyPassword(hash, password string) bool {
	if isLegacyHash(hash) {
		sum := sha512.Sum384([]byte(password))
		want := strings.ToLower(hash)
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(want)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func isLegacyHash(hash string) bool {
	if len(hash) != legacyHashLen {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// validatePassword exige ao menos uma maiúscula, uma minúscula e um dígito
func validatePassword(password string) error {
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}
