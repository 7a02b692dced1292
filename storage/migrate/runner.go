// Package migrate applies versioned database migrations written as YAML lists of commands.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roxnlabs/mentora/core"
)

var (
	NowFunc = time.Now // mockable

	nameRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

	// errors
	ErrUnknownVersion = errors.New("unknown migration version")
	ErrInvalidName    = errors.New("migration names may only contain lowercase letters, digits and underscores")
)

const newMigrationTmpl = `# %s
# Each command is passed as is to the database "runCommand".
up:
  - create: %s
down:
  - drop: %s
`

type (
	// Record is an applied migration.
	Record struct {
		Version   int64     `json:"version"`
		Name      string    `json:"name"`
		AppliedAt time.Time `json:"applied_at"`
	}

	// Store keeps track of the applied migrations.
	Store interface {
		// Applied returns the applied migrations sorted by version.
		Applied(ctx context.Context) ([]Record, error)
		MarkApplied(ctx context.Context, r Record) error
		MarkRolledBack(ctx context.Context, version int64) error
	}

	// Executor runs a database command.
	Executor interface {
		RunCommand(ctx context.Context, cmd bson.D) error
	}

	Result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	StatusEntry struct {
		Version   int64      `json:"version"`
		Name      string     `json:"name"`
		Applied   bool       `json:"applied"`
		AppliedAt *time.Time `json:"applied_at,omitempty"`
	}

	Runner struct {
		sources []Source
		dir     string // where Create writes new migrations
		store   Store
		exec    Executor
		logger  core.Logger
	}
)

func NewRunner(store Store, exec Executor, logger core.Logger, dir string, sources ...Source) *Runner {
	return &Runner{
		sources: sources,
		dir:     dir,
		store:   store,
		exec:    exec,
		logger:  logger,
	}
}

func (r *Runner) load(ctx context.Context) ([]Migration, map[int64]Record, error) {
	migrations, err := Load(r.sources...)
	if err != nil {
		return nil, nil, err
	}
	applied, err := r.store.Applied(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading applied migrations")
	}
	appliedMap := make(map[int64]Record, len(applied))
	for _, rec := range applied {
		appliedMap[rec.Version] = rec
	}
	return migrations, appliedMap, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) Result {
	return r.upTo(ctx, 0)
}

// UpTo applies the pending migrations up to (and including) version.
func (r *Runner) UpTo(ctx context.Context, version int64) Result {
	if version <= 0 {
		return r.fail(errors.Wrapf(ErrUnknownVersion, "%d", version))
	}
	return r.upTo(ctx, version)
}

func (r *Runner) upTo(ctx context.Context, version int64) Result {
	migrations, applied, err := r.load(ctx)
	if err != nil {
		return r.fail(err)
	}
	if version > 0 && !hasVersion(migrations, version) {
		return r.fail(errors.Wrapf(ErrUnknownVersion, "%d", version))
	}

	var count int
	for _, m := range migrations {
		if version > 0 && m.Version > version {
			break
		}
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := r.run(ctx, m.Up); err != nil {
			return r.fail(errors.Wrapf(err, "migration %s failed", m))
		}
		if err := r.store.MarkApplied(ctx, Record{Version: m.Version, Name: m.Name, AppliedAt: NowFunc().UTC()}); err != nil {
			return r.fail(errors.Wrapf(err, "recording migration %s", m))
		}
		r.logger.Info(fmt.Sprintf("migration %s applied", m))
		count++
	}

	if count == 0 {
		return Result{Success: true, Message: "no pending migrations"}
	}
	return Result{Success: true, Message: fmt.Sprintf("applied %d migration(s)", count)}
}

// Down rolls back the last applied migration.
func (r *Runner) Down(ctx context.Context) Result {
	migrations, applied, err := r.load(ctx)
	if err != nil {
		return r.fail(err)
	}

	var last *Record
	for _, rec := range applied {
		rec := rec
		if last == nil || rec.Version > last.Version {
			last = &rec
		}
	}
	if last == nil {
		return Result{Success: true, Message: "no migration to roll back"}
	}

	var m *Migration
	for i := range migrations {
		if migrations[i].Version == last.Version {
			m = &migrations[i]
			break
		}
	}
	if m == nil {
		return r.fail(errors.Errorf("migration %04d_%s not found in sources", last.Version, last.Name))
	}

	if err := r.run(ctx, m.Down); err != nil {
		return r.fail(errors.Wrapf(err, "rolling back %s failed", m))
	}
	if err := r.store.MarkRolledBack(ctx, m.Version); err != nil {
		return r.fail(errors.Wrapf(err, "recording rollback of %s", m))
	}
	r.logger.Info(fmt.Sprintf("migration %s rolled back", m))
	return Result{Success: true, Message: fmt.Sprintf("rolled back %s", m)}
}

// Status lists every known migration, applied or not.
// Applied migrations missing from the sources are listed too.
func (r *Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	migrations, applied, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]StatusEntry, 0, len(migrations))
	known := make(map[int64]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
		entry := StatusEntry{Version: m.Version, Name: m.Name}
		if rec, ok := applied[m.Version]; ok {
			at := rec.AppliedAt
			entry.Applied = true
			entry.AppliedAt = &at
		}
		entries = append(entries, entry)
	}
	for v, rec := range applied {
		if !known[v] {
			at := rec.AppliedAt
			entries = append(entries, StatusEntry{Version: v, Name: rec.Name, Applied: true, AppliedAt: &at})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	return entries, nil
}

// Version returns the highest applied version, 0 when none is.
func (r *Runner) Version(ctx context.Context) (int64, error) {
	applied, err := r.store.Applied(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "reading applied migrations")
	}
	var v int64
	for _, rec := range applied {
		if rec.Version > v {
			v = rec.Version
		}
	}
	return v, nil
}

// Create scaffolds the next migration file and returns its path.
func (r *Runner) Create(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !nameRegex.MatchString(name) {
		return "", ErrInvalidName
	}
	migrations, err := Load(r.sources...)
	if err != nil {
		return "", err
	}
	var next int64 = 1
	if len(migrations) > 0 {
		next = migrations[len(migrations)-1].Version + 1
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating migrations dir")
	}
	fname := fmt.Sprintf("%04d_%s.yaml", next, name)
	fp := filepath.Join(r.dir, fname)
	content := fmt.Sprintf(newMigrationTmpl, fname, name, name)
	if err := os.WriteFile(fp, []byte(content), 0o644); err != nil {
		return "", errors.Wrap(err, "writing migration")
	}
	return fp, nil
}

func (r *Runner) run(ctx context.Context, cmds []bson.D) error {
	for i, cmd := range cmds {
		if err := r.exec.RunCommand(ctx, cmd); err != nil {
			return errors.Wrapf(err, "command #%d", i+1)
		}
	}
	return nil
}

func (r *Runner) fail(err error) Result {
	r.logger.Error(fmt.Sprintf("migrate: %v", err), err)
	return Result{Success: false, Message: err.Error()}
}

func hasVersion(migrations []Migration, version int64) bool {
	for _, m := range migrations {
		if m.Version == version {
			return true
		}
	}
	return false
}
