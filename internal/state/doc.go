// Package state derives snapshots from an application instance and applies
// patches back onto it.
//
// State is declared by the instance's struct type. Every exported field with
// a json name is a state key; the schema for a type is built once and cached.
//
// Tags:
//
//	Message string `json:"message"`                 // state key "message"
//	Port    int    `json:"port" state:"port,readonly"` // visible, never patched
//	Cache   []byte `state:"-"`                         // reserved, not state
//
// Embedded structs are flattened and outer fields shadow inner ones, the same
// way encoding/json resolves names. Instances implementing Computer add
// derived keys to every snapshot without shadowing declared fields.
//
// Patch policy: unknown and read-only keys are dropped, never created. With
// validation enabled, a value that does not fit its field aborts the whole
// patch with *ValidationError and nothing is written. Without validation the
// patch is applied best-effort and values that do not fit are skipped.
package state
