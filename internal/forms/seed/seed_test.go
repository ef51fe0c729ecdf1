package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizportal/internal/forms/models"
	"bizportal/internal/forms/store/memory"
)

func TestLoadFile(t *testing.T) {
	f, err := LoadFile("testdata/forms.yaml")
	require.NoError(t, err)
	require.Len(t, f.Groups, 2)
	assert.Equal(t, models.FormTypeRegistration, f.Groups[0].FormType)
	assert.Len(t, f.Groups[0].Definitions[0].Sections, 2)
	assert.Equal(t, "DTI", f.Groups[0].Definitions[0].Sections[1].Source)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "  ", "empty"},
		{"unknown form type", "groups:\n  - formType: tax\n    definitions: [{version: \"2026.1\"}]\n", "unknown form type"},
		{"no definitions", "groups:\n  - formType: permit\n", "at least one definition"},
		{"bad version", "groups:\n  - formType: permit\n    definitions: [{version: \"v1\"}]\n", "not YYYY.N"},
		{"duplicate group", "groups:\n  - formType: permit\n    definitions: [{version: \"2026.1\"}]\n  - formType: permit\n    industryScope: all\n    definitions: [{version: \"2026.1\"}]\n", "duplicate group"},
		{"published without sections", "groups:\n  - formType: permit\n    definitions: [{version: \"2026.1\", status: published}]\n", "no sections"},
		{"two published", "groups:\n  - formType: permit\n    definitions:\n      - {version: \"2026.1\", status: published, sections: [{category: A}]}\n      - {version: \"2026.2\", status: published, sections: [{category: A}]}\n", "more than one published"},
		{"unknown status", "groups:\n  - formType: permit\n    definitions: [{version: \"2026.1\", status: live}]\n", "unknown status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f, err := LoadFile("testdata/forms.yaml")
	require.NoError(t, err)
	store := memory.NewInMemoryStore()

	created, err := Apply(ctx, store, f, now)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	published, err := store.ListPublished(ctx, models.FormTypeRegistration)
	require.NoError(t, err)
	require.Len(t, published, 2)
	for _, d := range published {
		require.NotNil(t, d.PublishedAt)
		if d.JurisdictionCodes != nil {
			assert.Equal(t, []string{"MNL"}, d.JurisdictionCodes)
			assert.Equal(t, []string{"food_beverages"}, d.BusinessTypes)
		} else {
			assert.Nil(t, d.BusinessTypes)
		}
	}

	groups, err := store.ListGroups(ctx, models.GroupFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	versions, err := store.ListDefinitions(ctx, groups[0].ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	created, err = Apply(ctx, store, f, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, created, "existing groups are skipped")
}
