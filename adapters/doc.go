// Package adapters binds concrete external tools to the bridge executor.
//
// An Adapter fixes the command, entry point, version and default timeout of
// one tool and turns every call into a bridge.Envelope. The codexify and
// ritual_engine tools are provided as typed adapters; any manifest can be
// bound to an untyped adapter with FromManifest.
package adapters
