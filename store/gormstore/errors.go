package gormstore

import (
	"context"
	"errors"
	"fmt"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"ward-backend/store"
)

// MySQL server error numbers.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// translate maps driver errors onto the store sentinels. Context errors and
// nil pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, store.ErrLockTimeout) || errors.Is(err, store.ErrReferenced) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}

	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		switch merr.Number {
		case mysqlDupEntry:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", store.ErrLockTimeout, err)
		case mysqlRowIsReferenced, mysqlNoReferencedRow:
			return fmt.Errorf("%w: %v", store.ErrReferenced, err)
		}
		return err
	}

	var perr *pgconn.PgError
	if errors.As(err, &perr) {
		switch perr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("%w: %v", store.ErrLockTimeout, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %v", store.ErrReferenced, err)
		}
	}
	return err
}
