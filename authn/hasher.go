package authn

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Hasher allows password hashing to be customized.
type Hasher interface {
	// Generate a hashed password from a plaintext password.
	Generate(password []byte) ([]byte, error)

	// Compare a hashed password with a plaintext password.
	Compare(hashedPassword, password []byte) error
}

// DefaultHasher uses bcrypt at the default cost.
var DefaultHasher Hasher = bcryptHasher{}

// TestHasher stores passwords as-is. Only use it in tests.
var TestHasher Hasher = testHasher{}

type bcryptHasher struct{}

func (bcryptHasher) Generate(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
}

func (bcryptHasher) Compare(hashedPassword, password []byte) error {
	return bcrypt.CompareHashAndPassword(hashedPassword, password)
}

type testHasher struct{}

func (testHasher) Generate(password []byte) ([]byte, error) {
	return password, nil
}

func (testHasher) Compare(hashedPassword, password []byte) error {
	if string(hashedPassword) != string(password) {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return nil
}

const dummyPassword = "obsidian-dummy-password"

// fallbackDummyHash is dummyPassword hashed by bcrypt at the default cost.
const fallbackDummyHash = "$2a$10$3Ow2lzED.R/MH66gGwrituSsCb8eo4KdMwyiXzFShR6QXb22l2CN."

// dummyHash is compared against when a user does not exist, so that unknown
// users and wrong passwords take the same time. If the hasher can not
// generate it, the precomputed bcrypt hash is used instead.
type dummyHash struct {
	once sync.Once
	hash []byte
}

func (d *dummyHash) get(h Hasher) []byte {
	d.once.Do(func() {
		hash, err := h.Generate([]byte(dummyPassword))
		if err != nil || len(hash) == 0 {
			hash = []byte(fallbackDummyHash)
		}
		d.hash = hash
	})
	return d.hash
}
