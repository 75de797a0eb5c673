package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/moldline-backend/internal/platform/blob"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageArchive Stage = "archive"
	StageLoad    Stage = "load"
	StageCleanup Stage = "cleanup"
)

type ErrorKind string

const (
	KindNotFound            ErrorKind = "NotFound"
	KindTimeout             ErrorKind = "Timeout"
	KindTransport           ErrorKind = "Transport"
	KindLocalReadFailure    ErrorKind = "LocalReadFailure"
	KindCanceled            ErrorKind = "Canceled"
	KindMissingInput        ErrorKind = "MissingInput"
	KindStoreUnavailable    ErrorKind = "StoreUnavailable"
	KindStoreRejected       ErrorKind = "StoreRejected"
	KindParseFailure        ErrorKind = "ParseFailure"
	KindConstraintViolation ErrorKind = "ConstraintViolation"
	KindDigestMismatch      ErrorKind = "DigestMismatch"

	// Controller level kinds; no stage error carries these.
	KindInternal       ErrorKind = "Internal"
	KindAlreadyRunning ErrorKind = "AlreadyRunning"
)

// StageError is implemented by every failure a pipeline stage returns.
type StageError interface {
	error
	Stage() Stage
	ErrorKind() ErrorKind
	// Retryable reports whether running the same stage again with the same
	// input could succeed.
	Retryable() bool
	// TypeName is "<Stage>Error.<Kind>", e.g. "LoadError.ParseFailure".
	TypeName() string
}

type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string        { return formatStageError("fetch", e.Kind, e.Err) }
func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Stage() Stage         { return StageFetch }
func (e *FetchError) ErrorKind() ErrorKind { return e.Kind }
func (e *FetchError) TypeName() string     { return "FetchError." + string(e.Kind) }
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindTransport
}

type ArchiveError struct {
	Kind ErrorKind
	Err  error
}

func (e *ArchiveError) Error() string        { return formatStageError("archive", e.Kind, e.Err) }
func (e *ArchiveError) Unwrap() error        { return e.Err }
func (e *ArchiveError) Stage() Stage         { return StageArchive }
func (e *ArchiveError) ErrorKind() ErrorKind { return e.Kind }
func (e *ArchiveError) TypeName() string     { return "ArchiveError." + string(e.Kind) }
func (e *ArchiveError) Retryable() bool      { return e.Kind == KindStoreUnavailable }

type LoadError struct {
	Kind ErrorKind
	Err  error
}

func (e *LoadError) Error() string        { return formatStageError("load", e.Kind, e.Err) }
func (e *LoadError) Unwrap() error        { return e.Err }
func (e *LoadError) Stage() Stage         { return StageLoad }
func (e *LoadError) ErrorKind() ErrorKind { return e.Kind }
func (e *LoadError) TypeName() string     { return "LoadError." + string(e.Kind) }
func (e *LoadError) Retryable() bool      { return e.Kind == KindStoreUnavailable }

type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string        { return formatStageError("cleanup", KindLocalReadFailure, e.Err) }
func (e *CleanupError) Unwrap() error        { return e.Err }
func (e *CleanupError) Stage() Stage         { return StageCleanup }
func (e *CleanupError) ErrorKind() ErrorKind { return KindLocalReadFailure }
func (e *CleanupError) TypeName() string     { return "CleanupError." + string(KindLocalReadFailure) }
func (e *CleanupError) Retryable() bool      { return true }

func formatStageError(stage string, kind ErrorKind, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed: %s", stage, kind)
	}
	return fmt.Sprintf("%s failed: %s: %v", stage, kind, err)
}

// ParseTypeName splits a TypeName such as "LoadError.ParseFailure" back
// into its stage and kind.
func ParseTypeName(typeName string) (Stage, ErrorKind, bool) {
	prefix, kind, ok := strings.Cut(typeName, ".")
	if !ok || kind == "" {
		return "", "", false
	}
	switch prefix {
	case "FetchError":
		return StageFetch, ErrorKind(kind), true
	case "ArchiveError":
		return StageArchive, ErrorKind(kind), true
	case "LoadError":
		return StageLoad, ErrorKind(kind), true
	case "CleanupError":
		return StageCleanup, ErrorKind(kind), true
	default:
		return "", "", false
	}
}

// AsStageError finds the first StageError in err's chain.
func AsStageError(err error) (StageError, bool) {
	var se StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// SafeMessage renders err for the run report. The stage and kind are kept
// verbatim; the cause goes through redaction so dataset content and
// credential-bearing strings are elided.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	se, ok := AsStageError(err)
	if !ok {
		return crdb.Redact(err)
	}
	cause := errors.Unwrap(se)
	if cause == nil {
		return se.TypeName()
	}
	return se.TypeName() + ": " + crdb.Redact(cause)
}

// classifyStoreError maps database failures onto load error kinds.
func classifyStoreError(err error) ErrorKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindStoreUnavailable
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return KindConstraintViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return KindConstraintViolation
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint failed") {
		return KindConstraintViolation
	}
	return KindStoreUnavailable
}

func classifyBlobError(err error) ErrorKind {
	if errors.Is(err, blob.ErrRejected) {
		return KindStoreRejected
	}
	return KindStoreUnavailable
}
