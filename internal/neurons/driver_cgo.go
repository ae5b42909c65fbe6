//go:build cgo

package neurons

import _ "github.com/mattn/go-sqlite3"

const driverName = "sqlite3"
