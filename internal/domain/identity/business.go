package identity

import "time"

// Business is the tenant that owns purchase orders, invoices, suppliers and
// budgets. OwnerID is set at creation and never changes.
type Business struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// IsOwnedBy reports whether userID is the business owner
func (b *Business) IsOwnedBy(userID string) bool {
	return b != nil && userID != "" && b.OwnerID == userID
}
