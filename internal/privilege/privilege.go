package privilege

import "os"

// Checker reports whether the process currently holds elevated privilege.
// It is consulted on every CODE and privileged FUNCTION call rather than
// cached at startup, so a privilege drop during a long session takes effect
// on the next request.
type Checker func() bool

// Elevated is the host check: effective uid 0.
func Elevated() bool {
	return os.Geteuid() == 0
}
