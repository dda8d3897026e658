// Package panel serves the operator console: a small browser UI for
// logging in, connecting toys, running commands and watching live events.
//
// The assets are embedded with go:embed so spherod ships as one binary.
// A directory may be given instead to iterate on the UI without
// rebuilding. Unknown paths fall back to index.html.
package panel
