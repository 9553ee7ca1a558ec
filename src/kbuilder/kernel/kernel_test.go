package kernel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild"
	"github.com/bitswalk/kbuilder/src/kbuilder/kbuild/kbuildtest"
)

// makeKernelTree creates the required top-level directories under root
func makeKernelTree(t *testing.T, root string) {
	t.Helper()
	for _, name := range requiredDirs {
		if err := os.MkdirAll(filepath.Join(root, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

// =============================================================================
// FindRoot
// =============================================================================

func TestFindRootFromSubdirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "msm-4.9")
	makeKernelTree(t, root)
	deep := filepath.Join(root, "drivers", "gpu", "msm")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}

	for _, start := range []string{root, deep, filepath.Join(root, "arch")} {
		got, err := FindRoot(start)
		if err != nil {
			t.Fatalf("FindRoot(%q) error = %v", start, err)
		}
		if got != root {
			t.Errorf("FindRoot(%q) = %q, want %q", start, got, root)
		}

		again, err := FindRoot(got)
		if err != nil || again != got {
			t.Errorf("FindRoot(FindRoot(%q)) = %q, %v; want %q", start, again, err, got)
		}
	}
}

func TestFindRootFromFile(t *testing.T) {
	root := t.TempDir()
	makeKernelTree(t, root)
	file := filepath.Join(root, "Makefile")
	if err := os.WriteFile(file, []byte("VERSION = 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := FindRoot(file)
	if err != nil {
		t.Fatalf("FindRoot() error = %v", err)
	}
	if got != root {
		t.Errorf("FindRoot() = %q, want %q", got, root)
	}
}

func TestFindRootNotFound(t *testing.T) {
	dir := t.TempDir()
	// incomplete tree: tools is missing
	for _, name := range requiredDirs[:len(requiredDirs)-1] {
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		start string
	}{
		{"incomplete tree", dir},
		{"missing start", filepath.Join(dir, "does-not-exist")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FindRoot(tt.start)
			if !errors.Is(err, kerrors.ErrRootNotFound) {
				t.Errorf("FindRoot() error = %v, want ErrRootNotFound", err)
			}
		})
	}
}

// =============================================================================
// Architecture table
// =============================================================================

func TestKbuildImagePath(t *testing.T) {
	tests := []struct {
		arch    Arch
		want    string
		wantErr bool
	}{
		{ArchARM, "/k/arch/arm/boot/zImage", false},
		{ArchARM64, "/k/arch/arm64/boot/Image.gz-dtb", false},
		{ArchX86, "/k/arch/x86/boot/bzImage", false},
		{Arch("mips"), "", true},
		{Arch(""), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			got, err := KbuildImagePath("/k", tt.arch)
			if tt.wantErr {
				if !errors.Is(err, kerrors.ErrUnsupportedArch) {
					t.Errorf("KbuildImagePath() error = %v, want ErrUnsupportedArch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("KbuildImagePath() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("KbuildImagePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		in      string
		want    Arch
		wantErr bool
	}{
		{"arm", ArchARM, false},
		{"ARM64", ArchARM64, false},
		{"aarch64", ArchARM64, false},
		{"x86_64", ArchX86, false},
		{"riscv", "", true},
	}

	for _, tt := range tests {
		got, err := ParseArch(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseArch(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseArch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Version
// =============================================================================

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		linux     string
		release   string
		wantLocal string
		wantNums  string
	}{
		{"offset slice", "4.9.112", "4.9.112-perf+", "perf+", "4.9.112"},
		{"short kernelversion", "4.9", "4.9.0-mydefconfig", "mydefconfig", "4.9.0"},
		{"no local version", "5.10.1", "5.10.1", "", "5.10.1"},
		{"hyphenated local", "3.18.31", "3.18.31-lineage-g1a2b3c", "lineage-g1a2b3c", "3.18.31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVersion(tt.linux, tt.release)
			if v.Local != tt.wantLocal {
				t.Errorf("Local = %q, want %q", v.Local, tt.wantLocal)
			}
			if got := v.Numbers(); got != tt.wantNums {
				t.Errorf("Numbers() = %q, want %q", got, tt.wantNums)
			}
			if v.Local != "" && v.Release[len(v.Release)-len(v.Local):] != v.Local {
				t.Errorf("Local %q is not a suffix of Release %q", v.Local, v.Release)
			}
		})
	}
}

func TestReleaseIsLinuxDashLocal(t *testing.T) {
	pairs := [][2]string{
		{"4.9.112", "4.9.112-perf+"},
		{"4.14.0", "4.14.0-rc1-dirty"},
		{"5.4.0", "5.4.0-1-amd64"},
	}
	for _, p := range pairs {
		v := ParseVersion(p[0], p[1])
		if v.Linux+"-"+v.Local != v.Release {
			t.Errorf("%q + \"-\" + %q != %q", v.Linux, v.Local, v.Release)
		}
	}
}

// =============================================================================
// Descriptor
// =============================================================================

func TestDescriptorResolveOnce(t *testing.T) {
	rec := &kbuildtest.Recorder{Outputs: map[string]string{
		kbuild.TargetKernelVersion: "4.9\n",
		kbuild.TargetKernelRelease: "scripts/kconfig/conf  --silentoldconfig Kconfig\n4.9.0-mydefconfig\n",
	}}

	d := NewDescriptor("/src/android_kernel_oneplus")
	if d.Name != "android_kernel_oneplus" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Defconfig != DefaultDefconfig {
		t.Errorf("Defconfig = %q, want %q", d.Defconfig, DefaultDefconfig)
	}

	for i := 0; i < 3; i++ {
		v, err := d.Resolve(context.Background(), rec, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if v.Local != "mydefconfig" {
			t.Errorf("Local = %q, want %q", v.Local, "mydefconfig")
		}
	}

	if n := len(rec.Calls()); n != 2 {
		t.Errorf("build tool invoked %d times, want 2", n)
	}
	for _, c := range rec.Calls() {
		if c.Dir != d.Root {
			t.Errorf("invocation dir = %q, want %q", c.Dir, d.Root)
		}
	}
}

func TestDescriptorResolvePassesEnv(t *testing.T) {
	tests := []struct {
		name string
		arch Arch
		env  map[string]string
		want map[string]string
	}{
		{"descriptor arch", ArchARM64, nil, map[string]string{"ARCH": "arm64"}},
		{"no arch", "", nil, nil},
		{
			name: "toolchain env",
			arch: ArchARM64,
			env:  map[string]string{"ARCH": "arm", "CROSS_COMPILE": "/tc/bin/arm-eabi-"},
			want: map[string]string{"ARCH": "arm", "CROSS_COMPILE": "/tc/bin/arm-eabi-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &kbuildtest.Recorder{Outputs: map[string]string{
				kbuild.TargetKernelVersion: "4.9\n",
				kbuild.TargetKernelRelease: "4.9.0\n",
			}}
			d := NewDescriptor("/src/linux")
			d.Arch = tt.arch
			if _, err := d.Resolve(context.Background(), rec, tt.env); err != nil {
				t.Fatal(err)
			}
			for _, c := range rec.Calls() {
				if diff := cmp.Diff(tt.want, c.Env); diff != "" {
					t.Errorf("%s env mismatch (-want +got):\n%s", c.Target, diff)
				}
			}
		})
	}
}

func TestDescriptorResolveFailure(t *testing.T) {
	rec := &kbuildtest.Recorder{Fail: func(inv kbuild.Invocation) error {
		return kerrors.ErrMakeFailed
	}}

	d := NewDescriptor("/src/linux")
	if _, err := d.Resolve(context.Background(), rec, nil); !errors.Is(err, kerrors.ErrMakeFailed) {
		t.Fatalf("Resolve() error = %v, want ErrMakeFailed", err)
	}
	if _, ok := d.Version(); ok {
		t.Error("Version() reports resolved after a failure")
	}
}

func TestDescriptorCustomRelease(t *testing.T) {
	rec := &kbuildtest.Recorder{Outputs: map[string]string{
		kbuild.TargetKernelVersion: "3.18.140",
		kbuild.TargetKernelRelease: "3.18.140-Kali-v1.02",
	}}
	d := NewDescriptor("/src/kali")
	if _, err := d.Resolve(context.Background(), rec, nil); err != nil {
		t.Fatal(err)
	}

	if got := d.CustomRelease(); got != "3.18.140-Kali-v1.02" {
		t.Errorf("CustomRelease() = %q", got)
	}

	d.ExtraVersion = "gcc-arm64"
	if got := d.CustomRelease(); got != "3.18.140-Kali-v1.02-gcc-arm64" {
		t.Errorf("CustomRelease() with extra = %q", got)
	}

	d.ReleaseBase = ReleaseBaseLocal
	if got := d.CustomRelease(); got != "Kali-v1.02-gcc-arm64" {
		t.Errorf("CustomRelease() local base = %q", got)
	}
	if got := d.CustomReleaseWith(""); got != "Kali-v1.02" {
		t.Errorf("CustomReleaseWith(\"\") = %q", got)
	}
}
