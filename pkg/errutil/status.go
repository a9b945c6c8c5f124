package errutil

// CoreStatus identifies an error category independent of transport.
type CoreStatus string

const (
	// Authorization denials. These are expected outcomes and are surfaced to
	// callers as refusals, never as crashes.
	StatusNotRegistered     CoreStatus = "NOT_REGISTERED"
	StatusNotPermitted      CoreStatus = "NOT_PERMITTED"
	StatusCrossTenantAccess CoreStatus = "CROSS_TENANT_ACCESS"
	StatusLicenseInactive   CoreStatus = "LICENSE_INACTIVE"
	StatusReadOnlyRole      CoreStatus = "READ_ONLY_ROLE"

	// Fatal categories. The operation aborts with nothing committed and the
	// surrounding system decides whether to retry or page an operator.
	StatusKeyCollision       CoreStatus = "KEY_COLLISION"
	StatusPersistenceFailure CoreStatus = "PERSISTENCE_FAILURE"

	// Payment-path outcomes, logged and returned but not escalated.
	StatusDuplicateTransaction CoreStatus = "DUPLICATE_TRANSACTION"
	StatusUnknownTenant        CoreStatus = "UNKNOWN_TENANT"

	StatusNotFound   CoreStatus = "NOT_FOUND"
	StatusConflict   CoreStatus = "CONFLICT"
	StatusBadRequest CoreStatus = "BAD_REQUEST"
	StatusInternal   CoreStatus = "INTERNAL"
	StatusUnknown    CoreStatus = "UNKNOWN"
)

// Denial reports whether the status is an authorization denial rather than a
// failure.
func (s CoreStatus) Denial() bool {
	switch s {
	case StatusNotRegistered, StatusNotPermitted, StatusCrossTenantAccess,
		StatusLicenseInactive, StatusReadOnlyRole:
		return true
	default:
		return false
	}
}

// Fatal reports whether the status must abort the triggering operation.
func (s CoreStatus) Fatal() bool {
	return s == StatusKeyCollision || s == StatusPersistenceFailure
}
