package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/monitor"
)

// TestHelperProcess stands in for mongodump & mongorestore.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	if os.Getenv("HELPER_FAIL") == "1" {
		fmt.Fprintln(os.Stderr, "Failed: error connecting to db server: no reachable servers")
		os.Exit(1)
	}
	for _, arg := range args[1:] {
		if path := strings.TrimPrefix(arg, "--archive="); path != arg && strings.Contains(args[0], "mongodump") {
			if err := os.WriteFile(path, []byte("archive"), 0o600); err != nil {
				os.Exit(2)
			}
		}
	}
}

type call struct {
	name string
	args []string
}

func mockExec(t *testing.T, fail bool) *[]call {
	calls := new([]call)
	orig := execCommandFunc
	execCommandFunc = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*calls = append(*calls, call{name: name, args: args})
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		if fail {
			cmd.Env = append(cmd.Env, "HELPER_FAIL=1")
		}
		return cmd
	}
	t.Cleanup(func() { execCommandFunc = orig })
	return calls
}

func mockNow(t *testing.T, now time.Time) {
	orig := NowFunc
	NowFunc = func() time.Time { return now }
	t.Cleanup(func() { NowFunc = orig })
}

type uploader struct {
	uploaded []string
	err      error
}

func (u *uploader) Upload(_ context.Context, localPath, objectName string) error {
	if u.err != nil {
		return u.err
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	u.uploaded = append(u.uploaded, objectName)
	return nil
}

func setup(t *testing.T, gzip bool, up Uploader) (*Manager, *monitor.Metrics) {
	conf := core.NewTestConfig()
	conf.Backup.Dir = filepath.Join(t.TempDir(), "backups")
	conf.Backup.Gzip = gzip
	conf.Mongo.URI = "mongodb://db:27017"
	metrics := monitor.NewMetrics(time.Minute)
	return NewManager(conf, up, metrics, core.NopLogger{}), metrics
}

func TestManager_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	mockNow(t, now)

	t.Run("gzip with upload", func(t *testing.T) {
		calls := mockExec(t, false)
		up := new(uploader)
		mgr, _ := setup(t, true, up)

		res := mgr.Create(context.Background())
		require.True(t, res.Success, res.Message)
		assert.Equal(t, filepath.Join(mgr.conf.Dir, "mentora-20260301T020000Z.archive.gz"), res.Path)
		assert.FileExists(t, res.Path)
		assert.Contains(t, res.Message, "uploaded")
		assert.Equal(t, []string{"mentora-20260301T020000Z.archive.gz"}, up.uploaded)

		require.Len(t, *calls, 1)
		assert.Equal(t, "mongodump", (*calls)[0].name)
		assert.Equal(t, []string{"--uri=mongodb://db:27017", "--archive=" + res.Path, "--gzip"}, (*calls)[0].args)
	})

	t.Run("plain, upload failure", func(t *testing.T) {
		calls := mockExec(t, false)
		mgr, _ := setup(t, false, &uploader{err: errors.New("bucket not found")})

		res := mgr.Create(context.Background())
		require.True(t, res.Success, res.Message)
		assert.True(t, strings.HasSuffix(res.Path, "mentora-20260301T020000Z.archive"))
		assert.Contains(t, res.Message, "upload failed: bucket not found")
		assert.NotContains(t, (*calls)[0].args, "--gzip")
	})

	t.Run("dump failure", func(t *testing.T) {
		mockExec(t, true)
		mgr, _ := setup(t, true, nil)

		res := mgr.Create(context.Background())
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "no reachable servers")
		assert.Empty(t, res.Path)
		archives, err := mgr.List()
		require.NoError(t, err)
		assert.Empty(t, archives)
	})
}

func writeArchive(t *testing.T, dir, name string) {
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
}

func TestManager_Restore(t *testing.T) {
	calls := mockExec(t, false)
	mgr, _ := setup(t, true, nil)
	writeArchive(t, mgr.conf.Dir, "mentora-20260301T020000Z.archive.gz")
	writeArchive(t, mgr.conf.Dir, "mentora-20260302T020000Z.archive")

	for _, name := range []string{"", "../mentora-20260301T020000Z.archive.gz", "notes.txt", "mentora-20990101T000000Z.archive"} {
		res := mgr.Restore(context.Background(), name)
		assert.False(t, res.Success, name)
	}
	assert.Empty(t, *calls)

	res := mgr.Restore(context.Background(), "mentora-20260301T020000Z.archive.gz")
	require.True(t, res.Success, res.Message)
	res = mgr.Restore(context.Background(), "mentora-20260302T020000Z.archive")
	require.True(t, res.Success, res.Message)

	require.Len(t, *calls, 2)
	assert.Equal(t, "mongorestore", (*calls)[0].name)
	assert.Equal(t, []string{
		"--uri=mongodb://db:27017",
		"--archive=" + filepath.Join(mgr.conf.Dir, "mentora-20260301T020000Z.archive.gz"),
		"--drop",
		"--gzip",
	}, (*calls)[0].args)
	assert.NotContains(t, (*calls)[1].args, "--gzip")

	mockExec(t, true)
	res = mgr.Restore(context.Background(), "mentora-20260302T020000Z.archive")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "mongorestore")
}

func TestManager_ListAndCleanup(t *testing.T) {
	mgr, _ := setup(t, true, nil)

	archives, err := mgr.List()
	require.NoError(t, err)
	assert.Empty(t, archives)

	for _, name := range []string{
		"mentora-20260220T020000Z.archive.gz",
		"mentora-20260225T020000Z.archive.gz",
		"mentora-20260301T020000Z.archive",
		"mentora-20260228T020000Z.archive.gz",
		"README.md",
	} {
		writeArchive(t, mgr.conf.Dir, name)
	}
	require.NoError(t, os.Mkdir(filepath.Join(mgr.conf.Dir, "mentora-dir.archive"), 0o750))

	archives, err = mgr.List()
	require.NoError(t, err)
	names := make([]string, 0, len(archives))
	for _, a := range archives {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{
		"mentora-20260301T020000Z.archive",
		"mentora-20260228T020000Z.archive.gz",
		"mentora-20260225T020000Z.archive.gz",
		"mentora-20260220T020000Z.archive.gz",
	}, names)
	assert.Equal(t, int64(len("mentora-20260301T020000Z.archive")), archives[0].Size)
	assert.Equal(t, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), archives[0].CreatedAt)

	// 7 days retention
	mockNow(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	res := mgr.Cleanup(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "1 backup(s) deleted", res.Message)

	archives, err = mgr.List()
	require.NoError(t, err)
	assert.Len(t, archives, 3)
	assert.FileExists(t, filepath.Join(mgr.conf.Dir, "README.md"))
}

func TestManager_Schedule(t *testing.T) {
	mockNow(t, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	mockExec(t, false)
	mgr, metrics := setup(t, true, nil)
	c := cron.New()

	mgr.conf.Schedule = "every day"
	assert.Error(t, mgr.Schedule(c))
	mgr.conf.Schedule = "0 2 * * *"
	require.NoError(t, mgr.Schedule(c))
	require.Len(t, c.Entries(), 1)

	c.Entries()[0].Job.Run()
	archives, err := mgr.List()
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BackupsTotal.WithLabelValues("success")))
}
