// Package core provides the business logic of the product catalog importer.
//
// The package is independent of HTTP, Postgres and Redis. Those sit behind
// the port interfaces in types.go ([Store], [FileStore], [Enqueuer]) so the
// same code runs under the web server, the worker and the tests.
//
// # Import flow
//
//  1. [Service.SubmitImport] spools the upload, creates a pending
//     [ImportJob] and queues a run_ingestion unit.
//  2. A worker calls [Service.RunIngestion]. The job moves to parsing, the
//     file is scanned once to count data rows, then the job moves to
//     importing and rows are upserted in batches keyed by the normalized SKU.
//     Each batch commits together with the job's processed_rows.
//  3. On success the job completes and a dispatch_event unit is queued for
//     [EventImportCompleted]. On any error the job fails with a message.
//     The spooled file is removed either way.
//
// # Webhooks
//
// [Service.DispatchEvent] fans an event out to every enabled subscription of
// that type as separate deliver_webhook units. A delivery is a single POST
// with no retry; its status code (or null) and elapsed time are recorded on
// the subscription.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category carries a code for support reference:
//
//   - JOB001-JOB002: Import job lookups and state transitions
//   - PRD001-PRD003: Product lookups and SKU conflicts
//   - SUB001-SUB002: Subscription lookups and validation
//   - UPL001-UPL005: Upload admission, size and cancellation
//   - DB001-DB003: Database connectivity
package core
