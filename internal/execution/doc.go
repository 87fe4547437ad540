// Package execution runs tools on deployed servers and keeps the append-only
// execution log.
//
// Parameters are validated before any credential is fetched or any network
// traffic happens. Numeric strings are not coerced; a type mismatch is a
// validation failure. Every execution of a resolved tool ends in exactly one
// stored ExecutionRecord carrying either the result or an error descriptor.
// The engine never retries.
package execution
