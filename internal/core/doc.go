// Package core turns rows of a sample spreadsheet into sample records and
// reconciles them against a remote sample service.
//
// It is independent of any transport: the HTTP server, the CLI and tests
// all drive it through [Importer.Run].
//
// # Pipeline
//
// One batch runs strictly in file order on a single goroutine:
//
//  1. Parameters are checked ([ParamError]) and the file is resolved,
//     falling back to the staging area.
//  2. The file is decoded by extension and each header is renamed to its
//     canonical column ([Normalize], [NormalizeTable]).
//  3. Every row must carry an id ([RowError]); columns with a configured
//     rule are checked as a whole ([VerifierRegistry.Verify]).
//  4. Each row is split into controlled and user metadata ([Assemble]) and
//     reconciled ([Reconciler.Reconcile]): new samples are created, changed
//     samples get a new version, and unchanged samples are left alone.
//  5. Existing samples no row touched are returned unchanged after the
//     saved ones.
//
// Format specifications come from package schema and are passed in
// explicitly; nothing in this package holds global configuration.
//
// # Error Handling
//
// Failures are typed ([ParamError], [UnsupportedFormatError],
// [ValidationError], [RowError], [RemoteServiceError], [ConfigError]) and
// map to user-facing messages with support codes through [MapError].
package core
