package persistence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erp/procurement/internal/domain/shared"
)

// Collection names used by the core
const (
	CollectionUsers         = "users"
	CollectionBusinesses    = "businesses"
	CollectionMembers       = "users"
	CollectionLinks         = "businesses"
	CollectionBudgets       = "budgets"
	CollectionExpenses      = "expenses"
	CollectionAnnualBudgets = "annualBudgets"
	CollectionInvoices      = "invoices"
	CollectionDashboard     = "dashboard"
)

// JoinPath joins path segments with "/"
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// UserPath is users/{userId}
func UserPath(userID string) string {
	return JoinPath(CollectionUsers, userID)
}

// BusinessPath is businesses/{businessId}
func BusinessPath(businessID string) string {
	return JoinPath(CollectionBusinesses, businessID)
}

// BusinessCollection is businesses/{businessId}/{name}
func BusinessCollection(businessID, name string) string {
	return JoinPath(CollectionBusinesses, businessID, name)
}

// MembershipsCollection is businesses/{businessId}/users
func MembershipsCollection(businessID string) string {
	return BusinessCollection(businessID, CollectionMembers)
}

// MembershipPath is businesses/{businessId}/users/{userId}
func MembershipPath(businessID, userID string) string {
	return JoinPath(MembershipsCollection(businessID), userID)
}

// LinksCollection is users/{userId}/businesses
func LinksCollection(userID string) string {
	return JoinPath(CollectionUsers, userID, CollectionLinks)
}

// LinkPath is users/{userId}/businesses/{businessId}
func LinkPath(userID, businessID string) string {
	return JoinPath(LinksCollection(userID), businessID)
}

// BudgetsCollection is businesses/{businessId}/budgets
func BudgetsCollection(businessID string) string {
	return BusinessCollection(businessID, CollectionBudgets)
}

// BudgetPath is businesses/{businessId}/budgets/{budgetId}
func BudgetPath(businessID, budgetID string) string {
	return JoinPath(BudgetsCollection(businessID), budgetID)
}

// ExpensesCollection is businesses/{businessId}/expenses
func ExpensesCollection(businessID string) string {
	return BusinessCollection(businessID, CollectionExpenses)
}

// ExpensePath is businesses/{businessId}/expenses/{expenseId}
func ExpensePath(businessID, expenseID string) string {
	return JoinPath(ExpensesCollection(businessID), expenseID)
}

// AnnualBudgetPath is businesses/{businessId}/annualBudgets/{year}
func AnnualBudgetPath(businessID string, year int) string {
	return JoinPath(BusinessCollection(businessID, CollectionAnnualBudgets), strconv.Itoa(year))
}

// InvoicePath is businesses/{businessId}/invoices/{invoiceId}
func InvoicePath(businessID, invoiceID string) string {
	return JoinPath(BusinessCollection(businessID, CollectionInvoices), invoiceID)
}

// ValidateSegment checks that s can be used as a single path segment
func ValidateSegment(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty path segment", shared.ErrInvalidInput)
	}
	if strings.Contains(s, "/") {
		return fmt.Errorf("%w: path segment %q contains '/'", shared.ErrInvalidInput, s)
	}
	return nil
}

func splitSegments(path string) ([]string, error) {
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: malformed path %q", shared.ErrInvalidInput, path)
		}
	}
	return segments, nil
}

// splitDocumentPath returns the parent collection and id of a document path
func splitDocumentPath(path string) (parent, id string, err error) {
	segments, err := splitSegments(path)
	if err != nil {
		return "", "", err
	}
	if len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document path", shared.ErrInvalidInput, path)
	}
	return JoinPath(segments[:len(segments)-1]...), segments[len(segments)-1], nil
}

func validateCollectionPath(path string) error {
	segments, err := splitSegments(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", shared.ErrInvalidInput, path)
	}
	return nil
}
