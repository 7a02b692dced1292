// Package backup dumps & restores the database with the MongoDB tools and keeps the archives tidy.
package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/monitor"
)

const (
	archivePrefix   = "mentora-"
	archiveExt      = ".archive"
	gzipExt         = ".gz"
	timestampLayout = "20060102T150405Z"
	maxOutput       = 512
)

var (
	// mockables
	execCommandFunc = exec.CommandContext
	NowFunc         = time.Now

	ErrInvalidName = errors.New("invalid backup name")
)

type (
	// Result is the outcome of a backup operation; failures are reported, never retried.
	Result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Path    string `json:"path,omitempty"`
	}

	Archive struct {
		Name      string    `json:"name"`
		Size      int64     `json:"size"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Uploader copies archives offsite.
	Uploader interface {
		Upload(ctx context.Context, localPath, objectName string) error
	}

	Manager struct {
		conf     core.BackupConfig
		mongoURI string
		uploader Uploader
		metrics  *monitor.Metrics
		logger   core.Logger
	}
)

// NewManager returns a backup manager; uploader and metrics may be nil.
func NewManager(conf *core.Config, uploader Uploader, metrics *monitor.Metrics, logger core.Logger) *Manager {
	return &Manager{
		conf:     conf.Backup,
		mongoURI: conf.MongoURI(),
		uploader: uploader,
		metrics:  metrics,
		logger:   logger,
	}
}

func (m *Manager) archiveName(t time.Time) string {
	name := archivePrefix + t.UTC().Format(timestampLayout) + archiveExt
	if m.conf.Gzip {
		name += gzipExt
	}
	return name
}

// Create dumps the database to a new timestamped archive, then uploads it if an uploader is set.
func (m *Manager) Create(ctx context.Context) Result {
	res := m.create(ctx)
	if m.metrics != nil {
		m.metrics.ObserveBackup(res.Success)
	}
	return res
}

func (m *Manager) create(ctx context.Context) Result {
	if err := os.MkdirAll(m.conf.Dir, 0o750); err != nil {
		return m.fail("creating backup dir", err)
	}
	name := m.archiveName(NowFunc())
	path := filepath.Join(m.conf.Dir, name)

	args := []string{"--uri=" + m.mongoURI, "--archive=" + path}
	if m.conf.Gzip {
		args = append(args, "--gzip")
	}
	if err := m.run(ctx, m.conf.MongodumpPath, args...); err != nil {
		_ = os.Remove(path)
		return m.fail("mongodump", err)
	}

	res := Result{Success: true, Message: fmt.Sprintf("backup %s created", name), Path: path}
	if m.uploader != nil {
		if err := m.uploader.Upload(ctx, path, name); err != nil {
			m.logger.Error("uploading backup", err, map[string]interface{}{"archive": name})
			res.Message += fmt.Sprintf(" (upload failed: %v)", err)
		} else {
			res.Message += " and uploaded"
		}
	}
	m.logger.Info(res.Message, map[string]interface{}{"path": path})
	return res
}

// Restore replaces the database content with the named archive.
func (m *Manager) Restore(ctx context.Context, name string) Result {
	path, err := m.archivePath(name)
	if err != nil {
		return m.fail("restoring "+name, err)
	}
	if _, err := os.Stat(path); err != nil {
		return m.fail("restoring "+name, err)
	}

	args := []string{"--uri=" + m.mongoURI, "--archive=" + path, "--drop"}
	if strings.HasSuffix(name, gzipExt) {
		args = append(args, "--gzip")
	}
	if err := m.run(ctx, m.conf.MongorestorePath, args...); err != nil {
		return m.fail("mongorestore", err)
	}
	res := Result{Success: true, Message: fmt.Sprintf("backup %s restored", name), Path: path}
	m.logger.Warn(res.Message, map[string]interface{}{"path": path})
	return res
}

func (m *Manager) archivePath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || !isArchive(name) {
		return "", errors.Wrap(ErrInvalidName, name)
	}
	return filepath.Join(m.conf.Dir, name), nil
}

func isArchive(name string) bool {
	return strings.HasPrefix(name, archivePrefix) &&
		(strings.HasSuffix(name, archiveExt) || strings.HasSuffix(name, archiveExt+gzipExt))
}

// List returns the archives of the backup dir, newest first.
func (m *Manager) List() ([]Archive, error) {
	entries, err := os.ReadDir(m.conf.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Archive{}, nil
		}
		return nil, errors.Wrap(err, "reading backup dir")
	}

	archives := make([]Archive, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isArchive(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed meanwhile
		}
		archives = append(archives, Archive{Name: e.Name(), Size: info.Size(), CreatedAt: createdAt(e.Name(), info)})
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].Name > archives[j].Name
		}
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// createdAt reads the timestamp from the archive name, falling back on the modification time.
func createdAt(name string, info os.FileInfo) time.Time {
	ts := strings.TrimPrefix(name, archivePrefix)
	ts = strings.TrimSuffix(strings.TrimSuffix(ts, gzipExt), archiveExt)
	if t, err := time.Parse(timestampLayout, ts); err == nil {
		return t
	}
	return info.ModTime().UTC()
}

// Cleanup deletes the archives older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) Result {
	archives, err := m.List()
	if err != nil {
		return m.fail("cleaning up backups", err)
	}
	cutoff := NowFunc().UTC().AddDate(0, 0, -m.conf.RetentionDays)

	var deleted int
	for _, a := range archives {
		if ctx.Err() != nil {
			return m.fail("cleaning up backups", ctx.Err())
		}
		if !a.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.conf.Dir, a.Name)); err != nil {
			return m.fail("deleting "+a.Name, err)
		}
		deleted++
	}
	res := Result{Success: true, Message: fmt.Sprintf("%d backup(s) deleted", deleted), Path: m.conf.Dir}
	m.logger.Info(res.Message, map[string]interface{}{"retention_days": m.conf.RetentionDays})
	return res
}

// Schedule registers the backup job (create then cleanup) on the cron scheduler.
func (m *Manager) Schedule(c *cron.Cron) error {
	_, err := c.AddFunc(m.conf.Schedule, func() {
		ctx := context.Background()
		if res := m.Create(ctx); res.Success {
			m.Cleanup(ctx)
		}
	})
	return errors.Wrapf(err, "scheduling backups %q", m.conf.Schedule)
}

func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	cmd := execCommandFunc(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if output := strings.TrimSpace(string(out)); output != "" {
			if len(output) > maxOutput {
				output = output[len(output)-maxOutput:]
			}
			return errors.Wrap(err, output)
		}
		return err
	}
	return nil
}

func (m *Manager) fail(action string, err error) Result {
	err = errors.Wrap(err, action)
	m.logger.Error("backup failed", err)
	return Result{Success: false, Message: err.Error()}
}
