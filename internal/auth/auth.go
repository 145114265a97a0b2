// Package auth verifies and registers user credentials for the form login
// flow. The engine consumes the Store interface; two implementations are
// provided: a MySQL-backed store over a fixed-size pooled connection set,
// and an embedded BadgerDB store for single-binary deployments. Passwords
// are stored as bcrypt hashes in both.
package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrBadCredentials is returned by Login on an unknown user or a
	// password mismatch.
	ErrBadCredentials = errors.New("auth: bad credentials")
)

// Store is the credential backend the engine consumes.
type Store interface {
	// Register creates the user, hashing the password. Fails with
	// ErrUserExists when the username is taken.
	Register(ctx context.Context, username, password string) error
	// Login checks the password against the stored hash.
	Login(ctx context.Context, username, password string) error
	Close() error
}

// hashTimeout is the deadline of the context handed to the store for one
// auth hook invocation. Only context-aware store calls observe it (the SQL
// store's pool acquire and queries); bcrypt hashing and the Badger store do
// not.
const hashTimeout = 5 * time.Second

// Hook adapts a Store to the parser's form-auth hook. Store errors and
// rejections both read as auth failure; the distinction only matters to the
// log.
func Hook(log *zap.SugaredLogger, store Store) func(username, password string, isLogin bool) bool {
	return func(username, password string, isLogin bool) bool {
		if username == "" || password == "" {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), hashTimeout)
		defer cancel()

		var err error
		if isLogin {
			err = store.Login(ctx, username, password)
		} else {
			err = store.Register(ctx, username, password)
		}
		switch {
		case err == nil:
			return true
		case errors.Is(err, ErrUserExists), errors.Is(err, ErrBadCredentials):
			log.Infof("auth rejected for %q: %v", username, err)
		default:
			log.Warnf("auth backend error for %q: %v", username, err)
		}
		return false
	}
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func checkPassword(hash, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}
