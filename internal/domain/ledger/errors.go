package ledger

import (
	"errors"
	"fmt"
)

// FailKind is the typed failure taxonomy surfaced to callers. A rejected
// operation leaves the journal and all balances unchanged.
type FailKind string

const (
	KindValidation           FailKind = "ValidationError"
	KindUnitIncompatible     FailKind = "UnitIncompatible"
	KindInsufficientStock    FailKind = "InsufficientStock"
	KindLotRequired          FailKind = "LotRequired"
	KindContainerConsistency FailKind = "ContainerConsistencyViolation"
	KindConcurrencyConflict  FailKind = "ConcurrencyConflict"
)

type Error struct {
	Kind FailKind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

func Errf(kind FailKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ErrConflict is returned by store implementations when a unit of work lost a
// serialization race. It is safe to retry: no partial application is ever
// observable.
var ErrConflict = &Error{Kind: KindConcurrencyConflict, Msg: "concurrent update conflict"}

// KindOf extracts the failure kind from err, or "" for untyped errors.
func KindOf(err error) FailKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func IsKind(err error, kind FailKind) bool { return KindOf(err) == kind }
