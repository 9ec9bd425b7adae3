package common

// Policy carries the platform roles consumed by the engines. It is an explicit
// value handed to each engine at construction, never a process-wide global.
type Policy struct {
	Admin    [20]byte
	Verifier [20]byte
	// AllowAdminComplete lets the administrator finalize an escrow
	// transaction on the seller's behalf. Disabled unless an operator opts
	// in through configuration.
	AllowAdminComplete bool
}

// IsAdmin reports whether addr holds the administrator role.
func (p Policy) IsAdmin(addr [20]byte) bool {
	return p.Admin != ([20]byte{}) && addr == p.Admin
}

// IsVerifier reports whether addr holds the verifier role.
func (p Policy) IsVerifier(addr [20]byte) bool {
	return p.Verifier != ([20]byte{}) && addr == p.Verifier
}
