// Package capture orchestrates ticketed capture jobs.
//
// A capture starts when Service.Create resolves an extractor, mints a ticket,
// and registers it as in_progress in the Registry. The job is then handed to a
// Dispatcher and runs detached from the request that created it. The Executor
// invokes the extractor, persists its stdout through the blob store, and moves
// the ticket to completed (with the payload's SHA-256) or failed. Clients only
// learn the result by polling the Registry through Service.Progress and
// Service.Confirm, and fetch the payload with Service.Output.
//
// Registry state lives in memory for the lifetime of the process.
package capture
