package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the directory pipeline reacts to.
const (
	CodeInsufficientPrivilege = "42501"
	CodeUniqueViolation       = "23505"
	CodeUndefinedColumn       = "42703"
	CodeUndefinedTable        = "42P01"
)

// SQLState returns the postgres error code carried by err, or "".
func SQLState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsPermissionDenied reports whether err is an authorization rejection from postgres
// (including row level security violations).
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == CodeInsufficientPrivilege {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "row-level security")
}

func IsUniqueViolation(err error) bool {
	return err != nil && SQLState(err) == CodeUniqueViolation
}

func IsUndefinedColumn(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == CodeUndefinedColumn {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")
}
