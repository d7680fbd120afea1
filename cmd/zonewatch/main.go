// Command zonewatch runs the geofence alert engine.
package main

import (
	"os"

	"github.com/tphakala/zonewatch/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
