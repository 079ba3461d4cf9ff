package transfer

// TransferOutcome aggregates the record results of one attempt for one object type.
// Success + Failure always equals Total.
type TransferOutcome struct {
	ObjectType     string         `json:"sObjectType"`
	Requests       int            `json:"requests"`
	Total          int            `json:"total"`
	Success        int            `json:"success"`
	Failure        int            `json:"failure"`
	Results        []RecordResult `json:"results,omitempty"`
	FailureResults []RecordResult `json:"failureResults,omitempty"`
	Attempts       int            `json:"attempts"`
	State          AttemptState   `json:"state"`
}

// NewTransferOutcome builds the outcome of one attempt from the flattened results
// of all of its requests. Results are not deduplicated.
func NewTransferOutcome(objecttype string, requests int, results []RecordResult) TransferOutcome {
	result := TransferOutcome{
		ObjectType: objecttype,
		Requests:   requests,
		Results:    results,
		Total:      len(results),
	}
	for _, r := range results {
		if !r.IsSuccess() {
			result.FailureResults = append(result.FailureResults, r)
		}
	}
	result.Failure = len(result.FailureResults)
	result.Success = result.Total - result.Failure
	return result
}

// Summary classifies the outcome for display.
func (o TransferOutcome) Summary() string {
	switch {
	case o.Failure > 0 && o.Success > 0:
		return "DEPLOYED WITH ERRORS"
	case o.Success > 0:
		return "SUCCESS"
	case o.Failure > 0:
		return "ERROR"
	default:
		return "NO RECORDS TO PUSH"
	}
}

// ExportResult is the outcome of exporting one object type.
type ExportResult struct {
	ObjectType string   `json:"sObjectType"`
	TotalSize  int      `json:"totalSize"`
	Records    []Record `json:"records,omitempty"`
}
