package transfer

import (
	"encoding/json"
	"fmt"
)

// Split partitions records into requests whose serialized record list is at most
// budget bytes. A list that does not fit is halved (first half floor(n/2) records)
// and each half is split again, left before right. A single record that does not
// fit is emitted on its own. The partitioning only depends on the records and the
// budget, so retries resend identical payloads.
func Split(objecttype string, operation Operation, extidfield string, records []Record, budget int) ([]TransferRequest, error) {
	if budget <= 0 {
		return nil, newError(KindConfig, objecttype, nil, "payload budget must be positive, have %d", budget)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// prefix[i] is the summed encoded size of records[:i]
	prefix := make([]int, len(records)+1)
	for i, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s record %d %w", objecttype, i, err)
		}
		prefix[i+1] = prefix[i] + len(b)
	}

	var result []TransferRequest
	var split func(lo, hi int)
	split = func(lo, hi int) {
		n := hi - lo
		if n == 1 || encodedSize(prefix, lo, hi) <= budget {
			result = append(result, TransferRequest{
				SObjectType: objecttype,
				Operation:   operation,
				Payload:     records[lo:hi:hi],
				ExtIDField:  extidfield,
			})
			return
		}
		mid := lo + n/2
		split(lo, mid)
		split(mid, hi)
	}
	split(0, len(records))

	return result, nil
}

// encodedSize returns len(json.Marshal(records[lo:hi])) from the prefix sums:
// the brackets, every record, and a comma between each pair.
func encodedSize(prefix []int, lo, hi int) int {
	n := hi - lo
	if n == 0 {
		return 2
	}
	return 2 + prefix[hi] - prefix[lo] + n - 1
}

// PayloadSize returns the serialized size of a record list as sent to the remote.
func PayloadSize(records []Record) (int, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
