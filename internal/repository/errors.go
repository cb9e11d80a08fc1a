package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"socialgraph/internal/model"
)

// Postgres error codes
const (
	pqUniqueViolation   = "23505"
	pqInvalidTextRepr   = "22P02"
	pqSerialization     = "40001"
	pqDeadlock          = "40P01"
	pqAdminShutdown     = "57P01"
	pqQueryCanceled     = "57014"
	pqClassConnection   = "08"
	pqClassInsufficient = "53"
)

// wrapErr adds op context and classifies err. Timeouts, lost connections, deadlocks
// and serialization failures become model.ErrTransientStorage. A malformed uuid
// becomes model.ErrInvalidID.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrTransientStorage, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepr {
		return fmt.Errorf("%s: %w", op, model.ErrInvalidID)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerialization, pqDeadlock, pqAdminShutdown, pqQueryCanceled:
			return true
		}
		switch string(pqErr.Code.Class()) {
		case pqClassConnection, pqClassInsufficient:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
