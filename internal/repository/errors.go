package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// MySQL server errors raised for values the schema cannot hold.
var mysqlDataErrors = map[uint16]struct{}{
	1048: {}, // column cannot be null
	1264: {}, // out of range value
	1366: {}, // incorrect value
	1406: {}, // data too long
}

// isDataError reports whether err means the row itself was rejected, so
// writing it again cannot succeed.
func isDataError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidData) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 22 is data_exception; 23502 not_null, 23514 check
		return strings.HasPrefix(pgErr.Code, "22") || pgErr.Code == "23502" || pgErr.Code == "23514"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlDataErrors[myErr.Number]
		return ok
	}

	var cqlErr gocql.RequestError
	if errors.As(err, &cqlErr) {
		return cqlErr.Code() == gocql.ErrCodeInvalid
	}

	return false
}

// classifyWriteError wraps err so rejected rows are not retried.
func classifyWriteError(err error) error {
	if isDataError(err) {
		return fmt.Errorf("failed to save message: %w: %w", domain.ErrInvalidMessage, err)
	}
	return fmt.Errorf("failed to save message: %w", err)
}
