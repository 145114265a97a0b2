package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// SQLStore backs credentials with the user(username, password) table. The
// connection set is fixed-size: a semaphore of poolSize tokens gates every
// query, so acquire blocks when the pool is exhausted rather than opening
// more connections.
type SQLStore struct {
	db  *sql.DB
	sem chan struct{}
}

// OpenSQL connects to MySQL with a pool of at most poolSize connections.
func OpenSQL(dsn string, poolSize int) (*SQLStore, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	sem := make(chan struct{}, poolSize)
	for i := 0; i < poolSize; i++ {
		sem <- struct{}{}
	}
	return &SQLStore{db: db, sem: sem}, nil
}

// acquire takes a pool token, blocking until one is free or ctx expires.
func (s *SQLStore) acquire(ctx context.Context) (func(), error) {
	select {
	case <-s.sem:
		return func() { s.sem <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register inserts the user unless the username is taken. Queries are
// parameterized throughout.
func (s *SQLStore) Register(ctx context.Context, username, password string) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var existing string
	err = s.db.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", username).Scan(&existing)
	switch {
	case err == nil:
		return ErrUserExists
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO user(username, password) VALUES(?, ?)", username, hash); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Login compares the password against the stored hash.
func (s *SQLStore) Login(ctx context.Context, username, password string) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var hash string
	err = s.db.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", username).Scan(&hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrBadCredentials
	case err != nil:
		return fmt.Errorf("lookup user: %w", err)
	}
	return checkPassword(hash, password)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
