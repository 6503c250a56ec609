package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Common repository errors
var (
	ErrNotFound           = errors.New("record not found")
	ErrVersionConflict    = errors.New("record was modified concurrently")
	ErrDuplicateKey       = errors.New("duplicate key violation")
	ErrIntegrityViolation = errors.New("integrity constraint violation")
)

// integrityViolationClass is the SQLSTATE class for constraint violations.
const integrityViolationClass = "23"

// translate maps driver and GORM errors onto the repository sentinels. The
// original error stays in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Join(ErrDuplicateKey, ErrIntegrityViolation, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return errors.Join(ErrIntegrityViolation, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == integrityViolationClass {
		return errors.Join(ErrIntegrityViolation, err)
	}
	return err
}
