// Package xerr defines the bridge's error kinds so callers can classify
// failures with errors.Is/errors.As instead of matching on strings.
package xerr

import "errors"

// Sentinel kinds, per the propagation policy: ConfigError and VendorUnavailable
// abort startup; VendorError/PreloadError/BusError/RegistryConflict surface to a
// caller that decides whether to roll back; ParseError and SchemaViolation are
// swallowed with a metric increment.
var (
	ErrConfig           = errors.New("config error")
	ErrVendorUnavailable = errors.New("vendor unavailable")
	ErrVendor           = errors.New("vendor error")
	ErrPreload          = errors.New("preload error")
	ErrBus              = errors.New("bus error")
	ErrRegistryConflict = errors.New("registry conflict")
	ErrSchemaViolation  = errors.New("schema violation")
	ErrParse            = errors.New("parse error")
)

// wrapped pairs a sentinel kind with a formatted message while keeping
// errors.Is/errors.As working against the sentinel via Unwrap.
type wrapped struct {
	kind Kind
	msg  string
	err  error
}

// Kind identifies one of the error kinds above.
type Kind = error

func (w *wrapped) Error() string {
	if w.err != nil {
		return w.msg + ": " + w.err.Error()
	}
	return w.msg
}

func (w *wrapped) Unwrap() error {
	if w.err != nil {
		return errors.Join(w.kind, w.err)
	}
	return w.kind
}

func wrap(kind Kind, msg string, cause error) error {
	return &wrapped{kind: kind, msg: msg, err: cause}
}

func Config(msg string, cause error) error           { return wrap(ErrConfig, msg, cause) }
func VendorUnavailable(msg string, cause error) error { return wrap(ErrVendorUnavailable, msg, cause) }
func Vendor(msg string, cause error) error            { return wrap(ErrVendor, msg, cause) }
func Preload(msg string, cause error) error           { return wrap(ErrPreload, msg, cause) }
func Bus(msg string, cause error) error               { return wrap(ErrBus, msg, cause) }
func RegistryConflict(msg string) error               { return wrap(ErrRegistryConflict, msg, nil) }
func SchemaViolation(msg string) error                { return wrap(ErrSchemaViolation, msg, nil) }
func Parse(msg string, cause error) error             { return wrap(ErrParse, msg, cause) }
