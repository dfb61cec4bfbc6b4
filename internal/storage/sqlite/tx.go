package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/graphkeep/graphkeep/internal/storage"
)

// withTx runs fn inside a transaction on the handle's connection: BEGIN on
// entry, COMMIT on normal return, ROLLBACK on any error (which is then
// returned unchanged). Nesting is not supported; callers must not open a
// second transaction on a handle already inside one.
func withTx(ctx context.Context, h *Handle, fn func(tx *sql.Tx) error) error {
	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", storage.ErrStorage, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Printf("sqlite: rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", storage.ErrStorage, err)
	}
	return nil
}
