package errors

// Code represents a machine-readable error code.
type Code string

// Pre-flight errors (never retried automatically).
const (
	// CodeConfiguration indicates a required configuration field is missing
	// or malformed. Raised before any network call is made.
	CodeConfiguration Code = "CONFIGURATION"
)

// Transport and remote errors.
const (
	// CodeNetwork indicates a transport-level failure (connection refused,
	// DNS, reset). Retried in place by the polling engine and eligible for
	// a job-level retry.
	CodeNetwork Code = "NETWORK"
	// CodeRemoteRejection indicates a non-success HTTP status with a
	// structured error body from the provider.
	CodeRemoteRejection Code = "REMOTE_REJECTION"
	// CodeRemoteJobFailure indicates the remote job reported a failed or
	// cancelled terminal status.
	CodeRemoteJobFailure Code = "REMOTE_JOB_FAILURE"
	// CodeTimeout indicates the poll attempt budget was exhausted.
	CodeTimeout Code = "TIMEOUT"
)

// Lifecycle errors.
const (
	// CodeCancelled indicates the job was cancelled by the caller.
	CodeCancelled Code = "CANCELLED"
	// CodeRetryExhausted indicates the per-job retry ceiling was reached.
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"
	// CodeNotFound indicates the referenced job is unknown to the registry.
	CodeNotFound Code = "NOT_FOUND"
)

var retryableCodes = map[Code]bool{
	CodeNetwork:          true,
	CodeRemoteJobFailure: true,
	CodeTimeout:          true,
	CodeCancelled:        true,
	CodeConfiguration:    false,
	CodeRemoteRejection:  false,
	CodeRetryExhausted:   false,
	CodeNotFound:         false,
}

// IsRetryableCode returns true if the code indicates a failure that a fresh
// user-initiated attempt may resolve.
func IsRetryableCode(code Code) bool {
	return retryableCodes[code]
}
