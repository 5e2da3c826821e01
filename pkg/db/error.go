package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// TranslateError maps driver codes to gorm.ErrDuplicatedKey where supported.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	// PostgreSQL 23505
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL 1062
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite 2067
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}
