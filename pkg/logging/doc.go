// Package logging builds the zap loggers used across taskvault.
//
// Engine packages take a *zap.Logger directly; this package only owns
// configuration and construction.
package logging
