package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a transfer password with bcrypt. The salt is random
// per hash, so equal passwords produce different digests.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext password matches the hash.
// Any malformed hash counts as a mismatch.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
