// Package auth implements user_verify: checking a submitted
// username/password against the user table, or registering a new row,
// through the bounded DB-handle pool. Queries are parameterized
// throughout rather than interpolating the username into the SQL
// string directly.
package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/kfcemployee/cinder/internal/dbpool"
	"github.com/kfcemployee/cinder/internal/logging"
)

// Verifier implements httpproto.Verifier against a live DB pool.
type Verifier struct {
	pool *dbpool.Pool
	log  *logging.Logger
}

// New returns a Verifier backed by pool.
func New(pool *dbpool.Pool, log *logging.Logger) *Verifier {
	return &Verifier{pool: pool, log: log}
}

// Verify implements the user_verify contract: for isLogin it checks the
// row's password matches pwd; for registration it succeeds only if the
// username does not already exist, followed by an insert. A DB failure
// is treated as an authentication failure, never as a propagated error,
// so the caller can always map it straight to /error.html.
func (v *Verifier) Verify(name, pwd string, isLogin bool) bool {
	if name == "" || pwd == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, release, err := v.pool.Acquire(ctx)
	if err != nil {
		v.log.Warnf("auth: checkout failed: %v", err)
		return false
	}
	defer release()

	storedPwd, found, err := lookupUser(ctx, handle.Conn(), name)
	if err != nil {
		v.log.Warnf("auth: query failed: %v", err)
		return false
	}

	if isLogin {
		return found && storedPwd == pwd
	}

	if found {
		return false // registration fails: username already used
	}
	if err := insertUser(ctx, handle.Conn(), name, pwd); err != nil {
		v.log.Warnf("auth: insert failed: %v", err)
		return false
	}
	return true
}

func lookupUser(ctx context.Context, conn *sql.Conn, name string) (password string, found bool, err error) {
	row := conn.QueryRowContext(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", name)
	err = row.Scan(&password)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return password, true, nil
}

func insertUser(ctx context.Context, conn *sql.Conn, name, pwd string) error {
	_, err := conn.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", name, pwd)
	return err
}
