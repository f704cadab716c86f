package doh

import (
	"errors"
)

var (
	// ErrNoProviders is returned when a resolver is constructed or queried
	// with an empty provider catalog.
	ErrNoProviders = errors.New("doh: no providers configured")

	// ErrNoRecords marks the expected failure mode: the query worked but
	// the name has no A or AAAA records (or does not exist). Callers use
	// IsNoRecords to tell this apart from transport trouble.
	ErrNoRecords = errors.New("doh: no records found")
)

// IsNoRecords reports whether err is the NXDOMAIN-equivalent "queried
// fine, nothing there" case rather than an infrastructure failure.
func IsNoRecords(err error) bool {
	return errors.Is(err, ErrNoRecords)
}
