package toolchain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"golang.org/x/term"
)

// Select asks the operator which toolchains to use. Lists of zero or one
// toolchain are returned as is without prompting. Otherwise each
// toolchain is printed with a 1-based ordinal and one line of
// whitespace separated ordinals is read from in. The result follows the
// order the operator typed; repeated ordinals are ignored.
func Select(toolchains []Toolchain, in io.Reader, out io.Writer) ([]Toolchain, error) {
	if len(toolchains) <= 1 {
		return toolchains, nil
	}

	for i, tc := range toolchains {
		fmt.Fprintf(out, "%d) %s\n", i+1, tc.Name)
	}
	fmt.Fprint(out, "Select toolchains (e.g. 1 3): ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, kerrors.ErrInvalidSelection.WithMessage("no selection was entered").WithCause(err)
	}

	return ParseSelection(toolchains, line)
}

// ParseSelection resolves a line of ordinals against toolchains
func ParseSelection(toolchains []Toolchain, line string) ([]Toolchain, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, kerrors.ErrInvalidSelection.WithMessage("no toolchain selected")
	}

	seen := make(map[int]bool, len(fields))
	selected := make([]Toolchain, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(toolchains) {
			return nil, kerrors.ErrInvalidSelection.WithMessagef("%q is not between 1 and %d", f, len(toolchains))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, toolchains[n-1])
	}

	return selected, nil
}

// SelectInteractive runs Select on the process's stdin and stdout. When
// stdin is not a terminal and a choice is needed, it fails instead of
// blocking on input nobody will type.
func SelectInteractive(toolchains []Toolchain) ([]Toolchain, error) {
	if len(toolchains) > 1 && !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, kerrors.ErrInvalidSelection.WithMessagef(
			"%d toolchains match and stdin is not a terminal; pass --toolchain", len(toolchains))
	}
	return Select(toolchains, os.Stdin, os.Stdout)
}
