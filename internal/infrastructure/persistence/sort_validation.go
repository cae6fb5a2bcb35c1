package persistence

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/erp/procurement/internal/domain/shared"
)

// maxOrderFieldLen bounds order field names accepted from callers
const maxOrderFieldLen = 64

// OrderFields lists the fields a known business collection may be ordered
// by. Collections not listed accept any well-formed field name.
var OrderFields = map[string]map[string]bool{
	CollectionBudgets: {
		"category":  true,
		"year":      true,
		"amount":    true,
		"spent":     true,
		"createdAt": true,
	},
	CollectionExpenses: {
		"date":     true,
		"amount":   true,
		"category": true,
		"year":     true,
		"budgetId": true,
	},
	CollectionAnnualBudgets: {
		"year":        true,
		"totalAmount": true,
		"updatedAt":   true,
	},
	CollectionInvoices: {
		"createdAt":     true,
		"dueDate":       true,
		"invoiceNumber": true,
		"status":        true,
		"total":         true,
		"paidAt":        true,
	},
	CollectionMembers: {
		"name":      true,
		"email":     true,
		"role":      true,
		"createdAt": true,
	},
}

// ValidateSortOrder normalizes a direction, defaulting to ascending
func ValidateSortOrder(orderDir string) Direction {
	return ParseDirection(orderDir)
}

// ValidateSortField checks a requested order field for collection. An empty
// field means store order and is always accepted.
func ValidateSortField(collection, field string) (string, error) {
	trimmed := strings.TrimSpace(field)
	if trimmed == "" {
		return "", nil
	}
	if !isFieldName(trimmed) {
		return "", fmt.Errorf("order field %q: %w", field, shared.ErrInvalidInput)
	}
	if allowed, known := OrderFields[collection]; known && !allowed[trimmed] {
		return "", fmt.Errorf("collection %s cannot be ordered by %q: %w", collection, trimmed, shared.ErrInvalidInput)
	}
	return trimmed, nil
}

// ValidateCollectionName checks a business sub-collection name
func ValidateCollectionName(name string) error {
	if !isFieldName(name) {
		return fmt.Errorf("collection name %q: %w", name, shared.ErrInvalidInput)
	}
	return nil
}

func isFieldName(s string) bool {
	if s == "" || len(s) > maxOrderFieldLen {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
