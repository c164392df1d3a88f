// Package secrets turns the secrets downloaded from Doppler into step outputs.
//
// This package is for internal use by doppler-secrets-fetch only and should
// not be imported by external code. The API may change without notice.
//
// The package provides:
//   - IsJSONObject and IsValidKey: pure predicates used to classify values
//     and to gate output names
//   - Decompose: splits a JSON object value into its top-level fields
//   - Emitter: decides per secret whether to decompose it, and realises
//     outputs, masking and environment exports through a Runner
//   - FetchSecrets: adapts the API response into an ordered []Secret
//
// Usage:
//
//	run := secrets.NewRunContext(registry)
//	e := secrets.NewEmitter(l, runner, run, secrets.EmitterConfig{Spec: spec})
//	e.Process(list)
//	e.Report()
package secrets
