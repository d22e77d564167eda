// Package hwcsession carries the build metadata embedded into the binary.
package hwcsession

import _ "embed"

//go:embed VERSION
var Version string

// DefaultConfig is written out by --installconfig.
//
//go:embed hwcsession.toml
var DefaultConfig string
