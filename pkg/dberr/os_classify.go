package dberr

import (
	"os"
	"runtime"
	"strings"
)

// ClassifyStorage wraps a local catalog I/O failure as a Storage error,
// attaching a disk-full or permission-denied hint when the underlying
// cause indicates one, per spec.md §7. Returns nil if err is nil. The
// catalog's corrupt-file quarantine path does not go through here —
// that self-heal is not surfaced as an error at all.
func ClassifyStorage(err error, message string) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, Storage, message)
	switch {
	case isDiskFull(err):
		e.Hint = "Disk is full"
	case isPermissionDenied(err):
		e.Hint = "Permission denied; check file and directory ownership"
	}
	return e
}

func isDiskFull(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left on device") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "disk is full") ||
		strings.Contains(msg, "database or disk is full")
}

func isPermissionDenied(err error) bool {
	return os.IsPermission(err) || strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// ClassifyKeyring wraps a runtime OS keychain operation failure as a
// Keyring error with a hint naming the platform's credential store,
// per spec.md §7. Returns nil if err is nil. The secret store's
// construction-time keychain-probe failure does not go through here —
// that falls back to session mode instead of becoming an error.
func ClassifyKeyring(err error, message string) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, Keyring, message)
	e.Hint = keyringHint()
	return e
}

func keyringHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "Unlock the macOS Keychain and retry"
	case "windows":
		return "Unlock Windows Credential Manager and retry"
	default:
		return "Unlock your OS Secret Service (e.g. gnome-keyring) and retry"
	}
}
