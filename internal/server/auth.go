package server

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

// cookieLen is the size of the locally generated auth cookie written
// alongside the PID file. The control socket already lives in a
// per-user directory (spec.md §6), so this is defense-in-depth against
// another local user guessing the socket path, not a networked
// authentication scheme (explicitly out of scope per spec.md §1).
const cookieLen = 32

// generateCookie returns cookieLen random bytes.
func generateCookie() ([]byte, error) {
	c := make([]byte, cookieLen)
	if _, err := rand.Read(c); err != nil {
		return nil, fmt.Errorf("server: generating cookie: %w", err)
	}
	return c, nil
}

// writeCookieFile persists cookie to path, owner-readable only.
func writeCookieFile(path string, cookie []byte) error {
	return os.WriteFile(path, cookie, 0o600)
}

// loadCookieFile reads a previously written cookie file.
func loadCookieFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// cookieDigest hashes cookie with blake2b so the value compared on
// every connection is a fixed-size digest rather than the raw secret.
func cookieDigest(cookie []byte) [32]byte {
	return blake2b.Sum256(cookie)
}

// cookiesEqual compares two candidate cookies in constant time via
// their blake2b digests.
func cookiesEqual(a, b []byte) bool {
	da, db := cookieDigest(a), cookieDigest(b)
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
