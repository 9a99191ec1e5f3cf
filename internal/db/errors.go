package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrNotFound is store.ErrNotFound so callers can match either.
	ErrNotFound = store.ErrNotFound

	// ErrAlreadyExists indicates a record with the same id exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates concurrent writes to the same record.
	// Callers may retry.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps known SurrealDB query errors onto sentinel errors.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}
	return err
}
