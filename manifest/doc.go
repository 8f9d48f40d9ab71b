// Package manifest describes the contract of external tools.
//
// A Manifest declares a tool's name, entry point, input/output schema,
// resource requirements and default timeout. Schema fields are declarative
// metadata only; nothing in this package validates request payloads against
// them. Manifests are created at bootstrap time (from compiled-in defaults or
// files on disk) and are read-only during normal operation.
package manifest
