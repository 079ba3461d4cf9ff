package transfer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/iancoleman/strcase"
)

var failureReportColumns = []string{"ObjectType", "RecordID", "ExternalID", "Result", "Message", "Attempts"}

// WriteFailureReport writes the failed records of every outcome as CSV, one row
// per failed record, in object processing order.
func WriteFailureReport(w io.Writer, outcomes []TransferOutcome) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(failureReportColumns))
	for i, c := range failureReportColumns {
		header[i] = strcase.ToSnake(c)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, o := range outcomes {
		for _, r := range o.FailureResults {
			row := []string{o.ObjectType, r.RecordID, r.ExternalID, string(r.Result), r.Message, strconv.Itoa(o.Attempts)}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// PrintOutcome writes a human readable summary of an object's import, followed
// by a table of its failed records.
func PrintOutcome(w io.Writer, o TransferOutcome) error {
	_, err := fmt.Fprintf(w, "%s: %s (%d success, %d failure, %d total, %d payloads, %d attempts)\n",
		o.ObjectType, o.Summary(), o.Success, o.Failure, o.Total, o.Requests, o.Attempts)
	if err != nil || len(o.FailureResults) == 0 {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tEXTERNAL ID\tMESSAGE")
	for _, r := range o.FailureResults {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.RecordID, r.ExternalID, r.Message)
	}
	return tw.Flush()
}

// PrintExport writes a one line summary of an object's export.
func PrintExport(w io.Writer, e ExportResult) error {
	_, err := fmt.Fprintf(w, "%s: %d records (total in database %d)\n", e.ObjectType, len(e.Records), e.TotalSize)
	return err
}
