// Package patient provides the business boundary for the triage queue.
// It defines the patient Record, the intake normalizer, the Store interface
// (persistence gateway), the queue statistics and the Service that owns the
// working set and selection.
package patient
