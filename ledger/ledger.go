// Package ledger holds the two money-like ledgers of the studio: subscription
// sessions and the client balance with its invoices.
package ledger

import "github.com/aryzhykau/atlantis-engine/studio"

// Books bundles both ledgers over one store transaction. Sessions bills
// through the same invoice ledger.
type Books struct {
	Invoices *Invoices
	Sessions *Sessions
}

func Open(store studio.Store, now studio.Clock) *Books {
	inv := NewInvoices(store, now)
	return &Books{Invoices: inv, Sessions: NewSessions(store, inv, now)}
}
