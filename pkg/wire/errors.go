package wire

import "errors"

// Sentinel errors returned by the codecs in this package, mirroring the
// teacher's internal/packet error style (package-level vars, wrapped with
// fmt.Errorf at call sites that add context).
var (
	ErrShortBuffer   = errors.New("wire: buffer too short")
	ErrTooManyBytes  = errors.New("wire: payload exceeds encodable length")
	ErrBadFragment   = errors.New("wire: invalid fragment index")
	ErrUnknownHeader = errors.New("wire: unrecognized packet type")
)
