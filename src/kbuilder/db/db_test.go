package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/kbuilder/db/migrations"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(Config{Path: filepath.Join(t.TempDir(), StoreDir, "kbuilder.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// =============================================================================
// Settings
// =============================================================================

func TestSettings(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	if _, err := d.GetSetting(ctx, KeyDefaultToolchain); !kerrors.Is(err, kerrors.ErrSettingNotFound) {
		t.Fatalf("GetSetting() on empty store error = %v, want ErrSettingNotFound", err)
	}

	if err := d.SetSetting(ctx, KeyDefaultToolchain, "gcc-a"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := d.SetSetting(ctx, KeyDefaultToolchain, "gcc-b"); err != nil {
		t.Fatalf("SetSetting() overwrite error = %v", err)
	}

	got, err := d.GetSetting(ctx, KeyDefaultToolchain)
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got != "gcc-b" {
		t.Errorf("GetSetting() = %q, want gcc-b", got)
	}

	if err := d.SetSetting(ctx, "other", "x"); err != nil {
		t.Fatal(err)
	}
	all, err := d.GetAllSettings(ctx)
	if err != nil {
		t.Fatalf("GetAllSettings() error = %v", err)
	}
	if diff := cmp.Diff(map[string]string{KeyDefaultToolchain: "gcc-b", "other": "x"}, all); diff != "" {
		t.Errorf("GetAllSettings() mismatch (-want +got):\n%s", diff)
	}

	if err := d.DeleteSetting(ctx, KeyDefaultToolchain); err != nil {
		t.Fatalf("DeleteSetting() error = %v", err)
	}
	if err := d.DeleteSetting(ctx, KeyDefaultToolchain); err != nil {
		t.Errorf("DeleteSetting() of a missing key error = %v", err)
	}
	if _, err := d.GetSetting(ctx, KeyDefaultToolchain); !kerrors.Is(err, kerrors.ErrSettingNotFound) {
		t.Errorf("GetSetting() after delete error = %v, want ErrSettingNotFound", err)
	}
}

func TestSettingsPersistAcrossOpen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(t.TempDir())

	d, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.SetSetting(ctx, KeyDefaultToolchain, "gcc-a"); err != nil {
		t.Fatal(err)
	}
	d.Close()

	d, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer d.Close()

	got, err := d.GetSetting(ctx, KeyDefaultToolchain)
	if err != nil || got != "gcc-a" {
		t.Errorf("GetSetting() after reopen = %q, %v; want gcc-a", got, err)
	}
}

// =============================================================================
// Migrations
// =============================================================================

func TestMigrationsIdempotent(t *testing.T) {
	d := openTestDB(t)

	r := migrations.NewRunner(d.DB())
	if err := r.Run(); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	v, err := r.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if v != 3 {
		t.Errorf("CurrentVersion() = %d, want 3", v)
	}
}

// =============================================================================
// Build records
// =============================================================================

func TestBuildRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewBuildRecordRepository(openTestDB(t))

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []*BuildRecord{
		{BatchID: "b1", Kernel: "msm", KernelRoot: "/k/msm", Toolchain: "gcc-a", Release: "4.9.0-a", Status: "success", ImagePath: "/k/msm/Image", Duration: 90 * time.Second, StartedAt: &started},
		{BatchID: "b1", Kernel: "msm", KernelRoot: "/k/msm", Toolchain: "gcc-b", Release: "4.9.0-b", Status: "failed", Error: "build.failed: Kernel build failed"},
		{BatchID: "b2", Kernel: "x86", KernelRoot: "/k/x86", Toolchain: "gcc-c", Status: "skipped"},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if rec.ID == "" {
			t.Fatal("Create() did not assign an ID")
		}
	}

	got, err := repo.GetByID(ctx, records[0].ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	opts := cmpopts.IgnoreFields(BuildRecord{}, "CreatedAt")
	if diff := cmp.Diff(records[0], got, opts); diff != "" {
		t.Errorf("GetByID() mismatch (-want +got):\n%s", diff)
	}

	missing, err := repo.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByID(missing) = %v, %v; want nil, nil", missing, err)
	}

	batch, err := repo.ListByBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("ListByBatch() error = %v", err)
	}
	var tcs []string
	for _, r := range batch {
		tcs = append(tcs, r.Toolchain)
	}
	if diff := cmp.Diff([]string{"gcc-a", "gcc-b"}, tcs); diff != "" {
		t.Errorf("ListByBatch() toolchains mismatch (-want +got):\n%s", diff)
	}

	all, err := repo.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Toolchain != "gcc-c" {
		t.Errorf("List() = %d records, first %q; want 3, newest first", len(all), all[0].Toolchain)
	}

	msm, err := repo.List(ctx, "msm", 1)
	if err != nil {
		t.Fatalf("List(msm) error = %v", err)
	}
	if len(msm) != 1 || msm[0].Toolchain != "gcc-b" {
		t.Errorf("List(msm, 1) = %+v, want the newest msm record", msm)
	}

	n, err := repo.DeleteBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteBefore() removed %d, want 3", n)
	}
}

func TestDeleteBeforeKeepsNewer(t *testing.T) {
	ctx := context.Background()
	repo := NewBuildRecordRepository(openTestDB(t))

	if err := repo.Create(ctx, &BuildRecord{BatchID: "b", Kernel: "k", KernelRoot: "/k", Toolchain: "t", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	n, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteBefore() removed %d, want 0", n)
	}
}

func TestBuildArtifacts(t *testing.T) {
	ctx := context.Background()
	repo := NewBuildRecordRepository(openTestDB(t))

	rec := &BuildRecord{
		BatchID: "b1", Kernel: "msm", KernelRoot: "/k/msm", Toolchain: "gcc-a", Release: "4.9.0-a", Status: "success",
		Artifacts: []ArtifactRecord{
			{Kind: "kernel", Path: "/k/msm/arch/arm64/boot/Image.gz-dtb", Key: "4.9.0/4.9.0-a-Image.gz-dtb", Location: "/export/4.9.0/4.9.0-a-Image.gz-dtb", Size: 6, Checksum: "abc"},
			{Kind: "log", Path: "/export/build_logs/4.9.0-a-log.txt"},
		},
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if diff := cmp.Diff(rec.Artifacts, got.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}

	if old, err := repo.ListExportedBefore(ctx, time.Now().Add(-time.Hour)); err != nil || len(old) != 0 {
		t.Errorf("ListExportedBefore(past) = %v, %v; want none", old, err)
	}
	exported, err := repo.ListExportedBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListExportedBefore() error = %v", err)
	}
	if diff := cmp.Diff(rec.Artifacts[:1], exported); diff != "" {
		t.Errorf("exported artifacts mismatch (-want +got):\n%s", diff)
	}

	if _, err := repo.DeleteBefore(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	var n int
	if err := repo.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM build_artifacts").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d artifacts left after pruning their records", n)
	}
}
