// Package seed loads form groups and definitions from a YAML file at
// startup.
//
//	groups:
//	  - formType: registration
//	    industryScope: all
//	    definitions:
//	      - version: "2026.1"
//	        status: published
//	        jurisdictionCodes: [MNL]
//	        sections:
//	          - category: Identity
//	            items:
//	              - {label: Valid ID, required: true}
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"bizportal/internal/forms/models"
	"bizportal/pkg/platform/sentinel"
	pstrings "bizportal/pkg/platform/strings"
)

// File is the decoded seed document.
type File struct {
	Groups []Group `yaml:"groups"`
}

type Group struct {
	FormType      models.FormType `yaml:"formType"`
	IndustryScope string          `yaml:"industryScope"`
	Name          string          `yaml:"name"`
	Definitions   []Definition    `yaml:"definitions"`
}

type Definition struct {
	Version           string                  `yaml:"version"`
	Name              string                  `yaml:"name"`
	Status            models.DefinitionStatus `yaml:"status"`
	BusinessTypes     []string                `yaml:"businessTypes"`
	JurisdictionCodes []string                `yaml:"jurisdictionCodes"`
	EffectiveFrom     *time.Time              `yaml:"effectiveFrom"`
	EffectiveTo       *time.Time              `yaml:"effectiveTo"`
	Sections          []models.Section        `yaml:"sections"`
}

// Store is the slice of the forms store the seeder writes through.
type Store interface {
	CreateGroup(ctx context.Context, group *models.Group, first *models.Definition) error
	CreateDefinition(ctx context.Context, def *models.Definition) error
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("seed: document is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) Validate() error {
	seen := make(map[string]struct{})
	for i, g := range f.Groups {
		if !g.FormType.IsValid() {
			return fmt.Errorf("seed: group %d: unknown form type %q", i, g.FormType)
		}
		key := string(g.FormType) + "/" + g.scope()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("seed: group %d: duplicate group %s", i, key)
		}
		seen[key] = struct{}{}
		if len(g.Definitions) == 0 {
			return fmt.Errorf("seed: group %s: at least one definition is required", key)
		}

		published := 0
		versions := make(map[string]struct{})
		for _, d := range g.Definitions {
			if !models.ValidVersion(d.Version) {
				return fmt.Errorf("seed: group %s: version %q is not YYYY.N", key, d.Version)
			}
			if _, dup := versions[d.Version]; dup {
				return fmt.Errorf("seed: group %s: duplicate version %s", key, d.Version)
			}
			versions[d.Version] = struct{}{}
			switch d.status() {
			case models.StatusPublished:
				published++
				if len(d.Sections) == 0 {
					return fmt.Errorf("seed: group %s: published version %s has no sections", key, d.Version)
				}
			case models.StatusDraft, models.StatusPendingApproval, models.StatusArchived:
			default:
				return fmt.Errorf("seed: group %s: unknown status %q", key, d.Status)
			}
		}
		if published > 1 {
			return fmt.Errorf("seed: group %s: more than one published version", key)
		}
	}
	return nil
}

// Apply creates every group in f with its definitions. Groups whose
// (type, scope) already exists are skipped, so seeding is safe on restart.
// It returns the number of groups created.
func Apply(ctx context.Context, store Store, f *File, now time.Time) (int, error) {
	created := 0
	for _, g := range f.Groups {
		group := &models.Group{
			ID:            uuid.New(),
			FormType:      g.FormType,
			IndustryScope: g.scope(),
			Name:          g.name(),
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}
		defs := make([]*models.Definition, 0, len(g.Definitions))
		for _, d := range g.Definitions {
			defs = append(defs, d.build(group, now))
		}

		err := store.CreateGroup(ctx, group, defs[0])
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed group %s/%s: %w", group.FormType, group.IndustryScope, err)
		}
		for _, def := range defs[1:] {
			if err := store.CreateDefinition(ctx, def); err != nil {
				return created, fmt.Errorf("seed version %s of %s/%s: %w", def.Version, group.FormType, group.IndustryScope, err)
			}
		}
		created++
	}
	return created, nil
}

func (g Group) scope() string {
	if s := strings.TrimSpace(g.IndustryScope); s != "" {
		return s
	}
	return models.IndustryScopeAll
}

func (g Group) name() string {
	if n := strings.TrimSpace(g.Name); n != "" {
		return n
	}
	return g.FormType.Label() + " - " + g.scope()
}

func (d Definition) status() models.DefinitionStatus {
	if d.Status == "" {
		return models.StatusDraft
	}
	return d.Status
}

func (d Definition) build(g *models.Group, now time.Time) *models.Definition {
	def := &models.Definition{
		ID:                uuid.New(),
		GroupID:           g.ID,
		FormType:          g.FormType,
		Version:           d.Version,
		Name:              g.Name,
		Status:            d.status(),
		BusinessTypes:     pstrings.DedupeAndTrim(d.BusinessTypes),
		JurisdictionCodes: pstrings.DedupeAndTrimUpper(d.JurisdictionCodes),
		EffectiveFrom:     d.EffectiveFrom,
		EffectiveTo:       d.EffectiveTo,
		Sections:          d.Sections,
		CreatedBy:         "seed",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if n := strings.TrimSpace(d.Name); n != "" {
		def.Name = n
	}
	if def.BusinessTypes == nil {
		def.BusinessTypes = g.BusinessTypes()
	}
	if def.Status == models.StatusPublished {
		def.PublishedAt = &now
		if def.EffectiveFrom == nil {
			def.EffectiveFrom = &now
		}
	}
	return def
}
