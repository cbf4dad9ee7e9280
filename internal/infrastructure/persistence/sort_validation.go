package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes a requested direction to ASC or DESC.
// Anything unrecognized sorts DESC, newest first.
func ValidateSortOrder(orderDir string) string {
	if strings.EqualFold(strings.TrimSpace(orderDir), "asc") {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField keeps ORDER BY out of injection territory: the field
// goes into SQL verbatim, so it must be on the table's allow list or the
// default is used instead.
func ValidateSortField(sortField string, allowed map[string]bool, defaultField string) string {
	field := strings.TrimSpace(sortField)
	if allowed[field] {
		return field
	}
	return defaultField
}

// CustomerSortFields is the ORDER BY allow list for canonical customers.
var CustomerSortFields = map[string]bool{
	"id":             true,
	"created_at":     true,
	"updated_at":     true,
	"given_name":     true,
	"family_name":    true,
	"email":          true,
	"birthdate":      true,
	"segment":        true,
	"status":         true,
	"source_channel": true,
}

// OfferSortFields is the ORDER BY allow list for offers.
var OfferSortFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"channel":      true,
	"source_ref":   true,
	"record_ref":   true,
	"product_type": true,
	"amount":       true,
	"currency":     true,
	"valid_from":   true,
	"valid_until":  true,
	"status":       true,
	"dedup_status": true,
}
