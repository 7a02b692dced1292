package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	appfs "github.com/roxnlabs/mentora/fs"
)

var fileRegex = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.ya?ml$`)

// Migration is a versioned list of database commands, with the commands undoing them.
type Migration struct {
	Version int64
	Name    string
	Up      []bson.D
	Down    []bson.D
	Source  string // file the migration was read from
}

func (m Migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// Source is a directory of migration files.
type Source struct {
	FS  fs.FS
	Dir string
}

// DefaultSources are the migrations shipped with the binary, then the ones of the project's `dir`.
func DefaultSources(dir string) []Source {
	return []Source{
		{FS: appfs.FS, Dir: appfs.MigrationsDir},
		{FS: os.DirFS(dir), Dir: "."},
	}
}

type migrationFile struct {
	Up   []yaml.Node `yaml:"up"`
	Down []yaml.Node `yaml:"down"`
}

// Load reads the migrations of every source, sorted by version. Missing directories are skipped.
// A version defined twice or an unreadable file fails the whole load.
func Load(sources ...Source) ([]Migration, error) {
	var migrations []Migration
	seen := make(map[int64]string)

	for _, src := range sources {
		entries, err := fs.ReadDir(src.FS, src.Dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue // optional directory
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading migrations dir %q", src.Dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			match := fileRegex.FindStringSubmatch(e.Name())
			if match == nil {
				continue
			}
			version, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil || version <= 0 {
				return nil, errors.Errorf("%s: invalid version", e.Name())
			}
			fp := path.Join(src.Dir, e.Name())
			if prev, ok := seen[version]; ok {
				return nil, errors.Errorf("duplicate migration version %d: %s and %s", version, prev, fp)
			}
			seen[version] = fp

			m, err := parseFile(src.FS, fp)
			if err != nil {
				return nil, err
			}
			m.Version = version
			m.Name = match[2]
			migrations = append(migrations, m)
		}
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func parseFile(fsys fs.FS, fp string) (Migration, error) {
	data, err := fs.ReadFile(fsys, fp)
	if err != nil {
		return Migration{}, errors.Wrapf(err, "reading %s", fp)
	}
	var mf migrationFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return Migration{}, errors.Wrapf(err, "parsing %s", fp)
	}
	if len(mf.Up) == 0 {
		return Migration{}, errors.Errorf("%s: no up commands", fp)
	}

	m := Migration{Source: fp}
	if m.Up, err = toCommands(mf.Up); err != nil {
		return Migration{}, errors.Wrapf(err, "%s: up", fp)
	}
	if m.Down, err = toCommands(mf.Down); err != nil {
		return Migration{}, errors.Wrapf(err, "%s: down", fp)
	}
	return m, nil
}

func toCommands(nodes []yaml.Node) ([]bson.D, error) {
	cmds := make([]bson.D, 0, len(nodes))
	for i := range nodes {
		if nodes[i].Kind != yaml.MappingNode {
			return nil, errors.Errorf("command #%d is not a document", i+1)
		}
		v, err := toBSON(&nodes[i])
		if err != nil {
			return nil, errors.Wrapf(err, "command #%d", i+1)
		}
		cmds = append(cmds, v.(bson.D))
	}
	return cmds, nil
}

// toBSON converts a YAML node keeping the key order of mappings:
// the command name has to be the first key of a database command.
func toBSON(n *yaml.Node) (interface{}, error) {
	switch n.Kind {
	case yaml.MappingNode:
		doc := make(bson.D, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			val, err := toBSON(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: n.Content[i].Value, Value: val})
		}
		return doc, nil
	case yaml.SequenceNode:
		arr := make(bson.A, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := toBSON(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		return arr, nil
	case yaml.ScalarNode:
		var val interface{}
		if err := n.Decode(&val); err != nil {
			return nil, err
		}
		if i, ok := val.(int); ok {
			return int64(i), nil
		}
		return val, nil
	case yaml.AliasNode:
		return toBSON(n.Alias)
	default:
		return nil, errors.Errorf("line %d: unsupported yaml node", n.Line)
	}
}
