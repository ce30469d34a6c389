package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
)

const timeLayout = "2006-01-02 15:04"

func printReceiptTable(w io.Writer, list []adminapi.Receipt) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No receipts.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPAYOUT\tAMOUNT\tRECIPIENT\tCONFIDENCE\tCREATED")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%.2f\t%s\n",
			r.ID, r.Status, r.PayoutState, r.Amount, r.Currency, r.Recipient, r.Confidence, r.CreatedAt.Local().Format(timeLayout))
	}
	tw.Flush()
}

func printReceiptDetails(w io.Writer, resp *adminapi.GetReceiptResponse) {
	r := resp.Receipt
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}

	row("Receipt", r.ID)
	row("Session", r.SessionID)
	row("Recipient", r.Recipient)
	row("Amount", r.Amount+" "+r.Currency)
	row("Detected", fmt.Sprintf("%s (%.2f)", r.Label, r.Confidence))
	row("Status", r.Status)
	row("Payout", fmt.Sprintf("%s, attempt %d", r.PayoutState, r.PayoutAttempt))
	row("Reference", r.PayoutReference)
	row("Paid at", formatTime(r.PaidAt))
	row("Settled at", formatTime(r.SettledAt))
	row("Reason", r.ReviewReason)
	row("Reviewed by", r.ReviewedBy)
	row("Receipt image", resp.ReceiptImageURL)
	if s := resp.Scan; s != nil {
		row("Scan", fmt.Sprintf("%s from %s, %s (%.2f), %s", s.Status, s.SourceAddress, s.Label, s.Confidence, s.CreatedAt.Local().Format(timeLayout)))
	}
	row("Scan image", resp.ScanImageURL)
	tw.Flush()
}

func printOutcome(w io.Writer, o adminapi.PayoutOutcome) {
	switch o.Kind {
	case "paid":
		fmt.Fprintf(w, "Payout accepted, reference %s\n", o.Reference)
	case "failed":
		msg := "Payout failed: " + o.Reason
		if o.Retryable {
			msg += " (retryable"
			if o.RetryAfterSeconds > 0 {
				msg += fmt.Sprintf(" in %s", time.Duration(o.RetryAfterSeconds)*time.Second)
			}
			msg += ")"
		}
		fmt.Fprintln(w, msg)
	case "unknown":
		fmt.Fprintln(w, "Payout outcome unknown, check the rail and run `rebatectl resolve` when safe")
	default:
		fmt.Fprintf(w, "Payout %s", o.Kind)
		if o.Reason != "" {
			fmt.Fprintf(w, ": %s", o.Reason)
		}
		fmt.Fprintln(w)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(timeLayout)
}
