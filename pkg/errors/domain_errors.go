package errors

var (
	// Domain errors shared by the keystore, directory, ledger, relay and session.
	ErrIdentityNotFound    = NotFound("identity not found")
	ErrFriendshipExists    = AlreadyExists("friendship already exists")
	ErrFriendshipNotFound  = NotFound("friendship not found")
	ErrKeyMismatch         = FailedPrecondition("local key does not match directory key state")
	ErrEncryptionFailed    = Internal("failed to seal location payload")
	ErrDecryptionFailed    = InvalidArg("failed to open sealed payload")
	ErrAuthorizationDenied = Forbidden("sender is not authorized for this recipient")
)

// ErrIdentity marks a failure during key establishment. Fatal to session
// start; the caller retries establishment (the rekey cascade is idempotent,
// re-running it is safe).
func ErrIdentity(cause error) error {
	return Wrap(CodeInternal, "identity establishment failed", cause)
}

// ErrTransport marks the relay as unreachable; subject to the caller's usual
// retry policy.
func ErrTransport(cause error) error {
	return Wrap(CodeUnavailable, "relay unreachable", cause)
}
