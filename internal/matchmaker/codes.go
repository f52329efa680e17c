package matchmaker

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newRoomCode returns "CH-" followed by 6 upper-case alphanumerics.
func newRoomCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return fmt.Sprintf("CH-%s", b), nil
}

// normalizeCode: 접두사 없이 입력하거나 소문자로 입력한 코드도 허용.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if !strings.HasPrefix(code, "CH-") {
		code = "CH-" + code
	}
	return code
}
