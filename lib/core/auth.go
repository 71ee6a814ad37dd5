package core

import (
	"crypto/subtle"
	"strings"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = store.NewError(store.RetCUnauthenticated, "invalid username or password")

// dummyHash is compared against for unknown users so that a lookup miss costs
// about as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("kvsd"), bcrypt.MinCost)

// Authenticator checks credentials against the configured users. Each password is
// either a bcrypt hash (as printed by `kvsd passwd`) or a plain password.
type Authenticator struct {
	users map[string]credential
}

type credential struct {
	secret []byte
	hashed bool
}

// NewAuthenticator creates an authenticator for users (username -> password or
// bcrypt hash). Without users, authentication is disabled.
func NewAuthenticator(users map[string]string) *Authenticator {
	a := &Authenticator{users: make(map[string]credential, len(users))}
	for name, secret := range users {
		a.users[name] = credential{secret: []byte(secret), hashed: isBcryptHash(secret)}
	}
	return a
}

// Enabled reports whether any user is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.users) > 0
}

// Authenticate returns nil if the credentials are valid or authentication is
// disabled, and ErrInvalidCredentials otherwise.
func (a *Authenticator) Authenticate(username, password string) error {
	if !a.Enabled() {
		return nil
	}

	cred, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrInvalidCredentials
	}

	if cred.hashed {
		if err := bcrypt.CompareHashAndPassword(cred.secret, []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare(cred.secret, []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns the bcrypt hash of password for use in the users config.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Wrap(err, "core: hash password")
	}
	return string(h), nil
}

func isBcryptHash(s string) bool {
	if !strings.HasPrefix(s, "$2a$") && !strings.HasPrefix(s, "$2b$") && !strings.HasPrefix(s, "$2y$") {
		return false
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
