//go:build !windows

package server

import "testing"

const (
	sep        = "/"
	deployRoot = "/opt/jsr77/deploy"
)

// deployPath joins without cleaning so tests can build unclean paths.
func deployPath(name string) string { return deployRoot + sep + name }

func addPlatformSeeds(f *testing.F) {
	f.Add("/opt/jsr77/deploy/shop.ear/")
	f.Add("/opt/jsr77/deploy/../conf/web.war")
	f.Add("/opt//jsr77/deploy/web.war")
}
