// Package batch helps tools that accept a single id or a list of ids.
// It normalizes the argument shape and fans the operation out per id,
// keeping partial failures isolated so one bad id does not abort the
// whole call.
package batch
