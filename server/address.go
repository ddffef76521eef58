package server

import (
	"regexp"
	"strings"
)

var (
	addressPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]{1,64}$`)
)

// ValidUsername indica se username pode nomear uma caixa de correio
func ValidUsername(username string) bool {
	if username == "." || username == ".." {
		return false
	}
	return usernamePattern.MatchString(username)
}

// ValidAddress indica se addr é um endereço de e-mail aceito pelo servidor
func ValidAddress(addr string) bool {
	if !addressPattern.MatchString(addr) {
		return false
	}
	local, _ := splitAddress(addr)
	return ValidUsername(local)
}

// splitAddress separa a parte local e o domínio; addr deve ser válido
func splitAddress(addr string) (local, domain string) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}
