// kbuilder cross-compiles Linux kernels with one or more toolchains and
// packages Android kernels into boot images and OTA zips.
package main

import (
	"github.com/bitswalk/kbuilder/src/kbuilder/internal/cmd"
)

func main() {
	cmd.Execute()
}
