package dberr

import "errors"

// AsError attempts to convert err into an *Error by walking its chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is a dberr *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// IsConnection reports whether err is a Connection error.
func IsConnection(err error) bool { return Is(err, Connection) }

// IsAuthentication reports whether err is an Authentication error.
func IsAuthentication(err error) bool { return Is(err, Authentication) }

// IsQueryCancelled reports whether err is a QueryCancelled error.
func IsQueryCancelled(err error) bool { return Is(err, QueryCancelled) }

// IsPoolTimeout reports whether err is a PoolTimeout error.
func IsPoolTimeout(err error) bool { return Is(err, PoolTimeout) }

// IsStorage reports whether err is a Storage error.
func IsStorage(err error) bool { return Is(err, Storage) }

// IsKeyring reports whether err is a Keyring error.
func IsKeyring(err error) bool { return Is(err, Keyring) }

// IsInternal reports whether err is an Internal error.
func IsInternal(err error) bool { return Is(err, Internal) }

// Recoverable reports whether err, if a dberr *Error, has a recoverable
// kind. Non-dberr errors are treated as non-recoverable.
func Recoverable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind.Recoverable()
}
