package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/cellapp/internal/world"
	"gopkg.in/yaml.v3"
)

// EntityDef is one row of entity_defs.yaml.
type EntityDef struct {
	UType    uint16              `yaml:"utype"`
	Name     string              `yaml:"name"`
	Volatile *world.VolatileInfo `yaml:"volatile"` // nil = sync everything, optimized
}

type entityDefsFile struct {
	Types  []EntityDef `yaml:"types"`
	Spaces []uint32    `yaml:"spaces"`
}

// EntityDefTable holds the entity types and the spaces this cell hosts at boot.
type EntityDefTable struct {
	defs   []EntityDef
	byName map[string]*EntityDef
	spaces []uint32
}

// LoadEntityDefs loads entity_defs.yaml.
func LoadEntityDefs(path string) (*EntityDefTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity defs: %w", err)
	}
	return ParseEntityDefs(raw)
}

func ParseEntityDefs(raw []byte) (*EntityDefTable, error) {
	var f entityDefsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse entity defs: %w", err)
	}
	t := &EntityDefTable{
		defs:   f.Types,
		byName: make(map[string]*EntityDef, len(f.Types)),
		spaces: f.Spaces,
	}
	utypes := make(map[uint16]bool, len(f.Types))
	for i := range t.defs {
		d := &t.defs[i]
		if d.Name == "" || d.UType == 0 {
			return nil, fmt.Errorf("entity def #%d: name and utype are required", i)
		}
		if t.byName[d.Name] != nil {
			return nil, fmt.Errorf("entity def %s: duplicate name", d.Name)
		}
		if utypes[d.UType] {
			return nil, fmt.Errorf("entity def %s: duplicate utype %d", d.Name, d.UType)
		}
		t.byName[d.Name] = d
		utypes[d.UType] = true
	}
	return t, nil
}

func (t *EntityDefTable) Get(name string) *EntityDef { return t.byName[name] }

func (t *EntityDefTable) Count() int { return len(t.defs) }

func (t *EntityDefTable) Spaces() []uint32 { return t.spaces }

// Register installs every type into the cell and creates the boot spaces.
func (t *EntityDefTable) Register(c *world.Cell) {
	for _, d := range t.defs {
		v := world.DefaultVolatile
		if d.Volatile != nil {
			v = *d.Volatile
		}
		c.RegisterType(world.EntityType{UType: d.UType, Name: d.Name, Volatile: v})
	}
	for _, id := range t.spaces {
		c.CreateSpace(id)
	}
}
