package persistence

import (
	"errors"

	"agent_server/core/port/out"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgExclusionViolation   = "23P01"
)

// pgCode returns the SQLSTATE of a Postgres error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapSlotError turns concurrent-booking failures into out.ErrSlotUnavailable.
func mapSlotError(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case pgUniqueViolation, pgSerializationFailure, pgExclusionViolation:
		return out.ErrSlotUnavailable
	}
	return err
}
