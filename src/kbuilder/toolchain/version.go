package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
)

// versionTimeout bounds a single -dumpversion call
const versionTimeout = 5 * time.Second

// CompilerVersion asks the compiler for its version with -dumpversion
func (t Toolchain) CompilerVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	var out bytes.Buffer
	err := kbuild.HostExecutor{}.Run(ctx, kbuild.Command{
		Argv:   []string{t.Compiler(), "-dumpversion"},
		Dir:    t.Root,
		Stdout: &out,
	})
	if err != nil {
		return "", err
	}
	version := kbuild.LastLine(out.String())
	if version == "" {
		return "", fmt.Errorf("%s -dumpversion printed nothing", t.Compiler())
	}
	return version, nil
}

// DetectVersions fills in Version for every toolchain whose compiler
// answers. Compilers that cannot run for this host are left blank.
func DetectVersions(ctx context.Context, toolchains []Toolchain) {
	for i := range toolchains {
		v, err := toolchains[i].CompilerVersion(ctx)
		if err != nil {
			log.Debug("Compiler version unavailable", "toolchain", toolchains[i].Name, "error", err)
			continue
		}
		toolchains[i].Version = v
	}
}
