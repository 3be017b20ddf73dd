// Package core defines the shared language of the leapbatch system.
//
// This package contains:
//   - Backend message types (Message, Severity, Location)
//   - Provider identifiers and connection parameters (ProviderID, ConnectionParams)
//   - Run outcome classification (ExitClass) and the tagged error types
//     every component uses to report failures (RunError, BackendError)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
