// Package logging provides file-based JSON logging with size-based rotation,
// and a viewer for those log files. DefaultConfig writes to
// ~/.engine/logs/engine.log and also to stderr; DebugConfig is the same at
// debug level. Setup returns a logger; only SetupDefault installs it as the
// slog default.
package logging
