package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt. Federated accounts
// never call this; they keep an empty, unusable hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash. An empty
// hash always fails, which is what makes federated accounts unusable for
// local login.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("account has no usable password")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
