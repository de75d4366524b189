// Package scheduler keeps the live set of armed job schedules.
//
// The scheduler only computes fire times: each fire is handed to the worker
// pool, which runs it through the executor. Configuration changes are
// applied by Restart, a full reconciliation against the enabled job
// definitions in the store.
package scheduler
