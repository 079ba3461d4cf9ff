package transfer

import (
	"strings"
)

// AttributesField is the metadata field the remote adds to every queried record and nested relationship.
const AttributesField = "attributes"

// CleanRecord prepares a queried record for staging. The remote's attributes
// metadata is removed at every depth, and each null cleanup field is replaced by
// a null on the lookup id field it shadows, so an import clears the lookup.
func CleanRecord(record Record, cleanupfields []string) {
	RemoveFieldRecursive(record, AttributesField)
	for _, field := range cleanupfields {
		v, exists := record[field]
		if !exists || v != nil {
			continue
		}
		record.DeleteField(field)
		record.SetField(LookupIDField(field), nil)
	}
}

// LookupIDField returns the id field behind a relationship field:
// Custom__r becomes Custom__c and Owner becomes OwnerId.
func LookupIDField(field string) string {
	if strings.HasSuffix(field, "__r") {
		return strings.TrimSuffix(field, "__r") + "__c"
	}
	return field + "Id"
}
