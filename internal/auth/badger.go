package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const userPrefix = "user:"

// BadgerStore keeps credentials in an embedded BadgerDB, for deployments
// without a MySQL server. Keys are "user:<name>", values bcrypt hashes.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the credential database in dataDir.
func OpenBadger(dataDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable badger's internal logging
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Register creates the user inside one transaction so a concurrent
// duplicate registration cannot slip between lookup and insert.
func (s *BadgerStore) Register(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	key := []byte(userPrefix + username)

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, []byte(hash))
	})
	if err != nil && !errors.Is(err, ErrUserExists) {
		return fmt.Errorf("register user: %w", err)
	}
	return err
}

// Login compares the password against the stored hash.
func (s *BadgerStore) Login(ctx context.Context, username, password string) error {
	var hash []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		hash, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	return checkPassword(string(hash), password)
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
