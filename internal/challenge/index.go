package challenge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	yaml "github.com/oasdiff/yaml3"
	"go.uber.org/zap"
)

// Indexer looks up challenge definitions loaded from challenge.yml fixtures.
type Indexer interface {
	Get(id string) (*Definition, error)
	GetAll() []*Definition
	BuildIndex(baseDir string) error
}

var _ Indexer = (*Index)(nil)

type Index struct {
	mu     sync.RWMutex
	challs map[string]*Definition
}

// Definition is the on-disk shape of a challenge.yml fixture.
type Definition struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Category     string             `yaml:"category"`
	Type         string             `yaml:"type"`
	MaxInstances int                `yaml:"max_instances"`
	Active       *bool              `yaml:"active"`
	WorkloadType string             `yaml:"workload_type"`
	Ports        []int              `yaml:"ports"`
	Files        []FileDefinition   `yaml:"files"`
	Instances    []InstanceFixture  `yaml:"instances"`
	VM           *VMFixtureSettings `yaml:"vm"`

	category Category
}

type FileDefinition struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Size int64  `yaml:"size"`
}

// InstanceFixture preloads an instance, typically to reproduce legacy tagging.
type InstanceFixture struct {
	Tag        string `yaml:"tag"`
	Address    string `yaml:"address"`
	Status     string `yaml:"status"`
	URL        string `yaml:"url"`
	ConsoleURL string `yaml:"console_url"`
}

// VMFixtureSettings drives how the in-memory orchestrator fakes virtual machines.
type VMFixtureSettings struct {
	ConsoleBase string        `yaml:"console_base"`
	StackPrefix string        `yaml:"stack_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

func NewIndex(baseDir string) (*Index, error) {
	idx := &Index{
		challs: make(map[string]*Definition),
	}
	err := idx.BuildIndex(baseDir)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) BuildIndex(baseDir string) error {
	challs := make(map[string]*Definition)
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == "example") {
			return filepath.SkipDir
		}
		if d.IsDir() || (d.Name() != "challenge.yml" && d.Name() != "challenge.yaml") {
			return nil
		}
		def, err := parseDefinition(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if def.Type != "zync" {
			return filepath.SkipDir
		}
		if _, dup := challs[def.ID]; dup {
			return fmt.Errorf("duplicate challenge id %s in %s", def.ID, path)
		}
		challs[def.ID] = def
		zap.S().Infof("Registered challenge: %s (%s)", def.ID, def.Name)

		return filepath.SkipDir
	})
	if err != nil {
		return err
	}
	idx.mu.Lock()
	idx.challs = challs
	idx.mu.Unlock()
	return nil
}

func (idx *Index) Get(id string) (*Definition, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	def, ok := idx.challs[id]
	if !ok {
		return nil, fmt.Errorf("challenge not found: %s", id)
	}
	return def, nil
}

// GetAll returns every definition ordered by id.
func (idx *Index) GetAll() []*Definition {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	defs := make([]*Definition, 0, len(idx.challs))
	for _, def := range idx.challs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Kind returns the parsed category of the definition.
func (d *Definition) Kind() Category {
	return d.category
}

// IsActive defaults to true when the fixture does not say otherwise.
func (d *Definition) IsActive() bool {
	return d.Active == nil || *d.Active
}

func parseDefinition(challengeFilePath string) (*Definition, error) {
	data, err := os.ReadFile(challengeFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge file: %w", err)
	}
	var def Definition
	err = yaml.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge file: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("missing id in challenge file")
	}
	if def.Name == "" {
		return nil, fmt.Errorf("missing name in challenge file")
	}
	if def.Type == "" {
		return nil, fmt.Errorf("missing type in challenge file")
	}
	if def.Type != "zync" {
		return &def, nil
	}
	category, ok := ParseCategory(def.Category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q in challenge file", def.Category)
	}
	def.category = category

	return &def, nil
}
