package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "poll")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConcurrencyError reports a lost optimistic-version race on a record.
// The caller may retry against a fresh snapshot.
type ConcurrencyError struct {
	Table string
	Key   string
}

func (e *ConcurrencyError) Error() string {
	return "concurrent modification of " + e.Table + " " + e.Key
}

func (e *ConcurrencyError) IsRetriable() bool {
	return true
}

func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrentModification
}

var (
	// Validation: rejected before any state mutation.
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidSize            = errors.New("invalid size")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrSizeTooLarge           = errors.New("size too large")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidExpiry          = errors.New("invalid expiry duration")
	ErrInvalidSide            = errors.New("invalid side")
	ErrInvalidMarket          = errors.New("invalid market")
	ErrInvalidVault           = errors.New("invalid vault")
	ErrJITPending             = errors.New("jit confirmation already pending")
	ErrNoPendingMatch         = errors.New("no pending jit match")

	// Temporal: terminal for the call.
	ErrOrderExpired     = errors.New("order expired")
	ErrJITNotEnabled    = errors.New("jit not enabled")
	ErrJITWindowElapsed = errors.New("jit window elapsed")

	// Resource: collaborator failures.
	ErrTransferFailed    = errors.New("transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrRewardOverflow    = errors.New("reward overflow")

	// Not-found / identity.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Authorization and consistency.
	ErrUnauthorized           = errors.New("unauthorized")
	ErrOverRelease            = errors.New("release exceeds locked collateral")
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// Kind classifies an error for callers and transports.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindTemporal
	KindResource
	KindNotFound
	KindUnauthorized
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindTemporal:
		return "TEMPORAL"
	case KindResource:
		return "RESOURCE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInsufficientCollateral, KindValidation},
	{ErrInvalidSize, KindValidation},
	{ErrInvalidPrice, KindValidation},
	{ErrSizeTooLarge, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidExpiry, KindValidation},
	{ErrInvalidSide, KindValidation},
	{ErrInvalidMarket, KindValidation},
	{ErrInvalidVault, KindValidation},
	{ErrJITPending, KindValidation},
	{ErrNoPendingMatch, KindValidation},
	{ErrOrderExpired, KindTemporal},
	{ErrJITNotEnabled, KindTemporal},
	{ErrJITWindowElapsed, KindTemporal},
	{ErrTransferFailed, KindResource},
	{ErrInsufficientFunds, KindResource},
	{ErrOracleUnavailable, KindResource},
	{ErrRewardOverflow, KindResource},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindConflict},
	{ErrConcurrentModification, KindConflict},
	{ErrUnauthorized, KindUnauthorized},
	{ErrOverRelease, KindUnauthorized},
}

// KindOf returns the classification of err, KindInternal when unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Code returns a stable snake_case identifier for the first known sentinel in err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return codeOf(k.err)
		}
	}
	return "internal"
}

func codeOf(err error) string {
	b := []byte(err.Error())
	for i, c := range b {
		if c == ' ' {
			b[i] = '_'
		}
	}
	return string(b)
}
