// Package services contains the rebate engine's business logic: the
// submission gate with its rate limiter and session registry, the review
// state machine, the payout orchestrator, delivery reconciliation and the
// operator-facing queries.
//
// Correctness under concurrency comes from the record store (unique
// indexes, conditional upserts and version compare-and-swap). No service
// holds an in-process lock across I/O.
package services
