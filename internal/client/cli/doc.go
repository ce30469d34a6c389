// Package cli implements rebatectl, the operator command-line client for
// the admin API.
//
// Commands:
//   - login: exchange operator credentials for an access token, kept in
//     the token file
//   - list / show: browse the review queue
//   - approve / reject: record a review decision
//   - resolve: resubmit a payout whose outcome is unknown
//   - reject-scan: withdraw an unused scan session
//   - hash-password: produce a bcrypt hash for the server's operator list
package cli
