package descriptor

import "github.com/tuskdb/tuskcore/pkg/dberr"

// ConnectionTestResult is the outcome of a one-shot validation probe
// against a Descriptor. The probe itself (connect, ping, close) is
// implemented in pkg/dbpool, which shares the TLS/keepalive/timeout
// config path with Pool construction; this package only owns the
// result shape since it travels back to the same caller that built
// the Descriptor.
type ConnectionTestResult struct {
	OK            bool
	LatencyMs     int64
	ServerVersion string
	Error         *dberr.Error
}
