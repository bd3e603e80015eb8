package utils

import "golang.org/x/crypto/bcrypt"

// CheckToken compares a clear-text API token against one bcrypt hash.
func CheckToken(token, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(token)) == nil
}

// CheckTokenInList reports whether the clear-text token matches any hash
// in the list. Tokens are only ever stored hashed.
func CheckTokenInList(token string, hashes []string) bool {
	for _, h := range hashes {
		if CheckToken(token, h) {
			return true
		}
	}
	return false
}

// HashToken produces a bcrypt hash for an API token, for provisioning
// token lists out-of-band.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
