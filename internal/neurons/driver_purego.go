//go:build !cgo

package neurons

// Pure Go driver for CGO_ENABLED=0 builds.
import _ "modernc.org/sqlite"

const driverName = "sqlite"
