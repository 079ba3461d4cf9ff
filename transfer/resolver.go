package transfer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	RecordTypeField             = "RecordType"
	RecordTypeIDField           = "RecordTypeId"
	recordTypeDeveloperNamePath = "RecordType.DeveloperName"
)

// LookupTable maps record type developer names to ids in the target org.
// It is built once per object type per attempt.
type LookupTable map[string]string

// ReferenceResolver replaces record type references, which are portable between
// orgs, with the record type ids of the target org.
type ReferenceResolver struct {
	Querier Querier
	Logger  *zap.Logger
}

// RecordTypeQuery returns the query that lists the record types of an object type.
func RecordTypeQuery(objecttype string) string {
	return fmt.Sprintf("SELECT Id, Name, DeveloperName FROM RecordType WHERE SobjectType = '%s'", escapeSOQL(objecttype))
}

func escapeSOQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// BuildLookupTable queries the record types of an object type.
func (r ReferenceResolver) BuildLookupTable(ctx context.Context, objecttype string) (LookupTable, error) {
	result := make(LookupTable)
	_, err := r.Querier.Query(ctx, RecordTypeQuery(objecttype), func(rec Record) error {
		src, err := rec.Source()
		if err != nil {
			return err
		}
		name, ok := src.StringForPath("DeveloperName")
		if !ok {
			return nil
		}
		id, _ := src.StringForPath("Id")
		result[name] = id
		return nil
	})
	if err != nil {
		return nil, newError(KindTransport, objecttype, err, "failed to query record types")
	}
	return result, nil
}

// Resolve rewrites every record's RecordType.DeveloperName reference to a
// RecordTypeId using table. Records without a RecordType field are left alone.
// A reference that cannot be resolved fails the whole set, naming the record.
func (r ReferenceResolver) Resolve(objecttype string, cfg ObjectConfig, table LookupTable, records []Record) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, rec := range records {
		extid, _ := rec.ExternalID(cfg.ExternalID)
		if _, exists := rec[RecordTypeField]; !exists {
			logger.Debug("record has no record type reference", zap.String("object", objecttype), zap.String("externalId", extid))
			continue
		}
		src, err := rec.Source()
		if err != nil {
			return newError(KindResolution, objecttype, err, "failed to read record type of record %s", extid)
		}
		name, ok := src.StringForPath(recordTypeDeveloperNamePath)
		if !ok || name == "" {
			return newError(KindResolution, objecttype, nil, "record %s has a RecordType reference without a DeveloperName", extid)
		}
		id, exists := table[name]
		if !exists {
			return newError(KindResolution, objecttype, nil, "record %s references record type %q which does not exist in the target org", extid, name)
		}
		rec.SetField(RecordTypeIDField, id)
		rec.DeleteField(RecordTypeField)
	}
	return nil
}

// ResolveAll builds the lookup table and resolves records when the object type
// needs it.
func (r ReferenceResolver) ResolveAll(ctx context.Context, objecttype string, cfg ObjectConfig, records []Record) error {
	if !cfg.HasRecordTypes || len(records) == 0 {
		return nil
	}
	table, err := r.BuildLookupTable(ctx, objecttype)
	if err != nil {
		return err
	}
	return r.Resolve(objecttype, cfg, table, records)
}
