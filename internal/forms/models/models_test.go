package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bizportal/pkg/domain-errors"
)

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"first of the year", nil, "2026.1"},
		{"after highest", []string{"2026.1", "2026.3", "2026.2"}, "2026.4"},
		{"other years ignored", []string{"2025.7", "2024.2"}, "2026.1"},
		{"malformed ignored", []string{"v2", "2026.x", "2026.2"}, "2026.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextVersion(tt.existing, 2026))
		})
	}
	assert.True(t, ValidVersion("2026.12"))
	assert.False(t, ValidVersion("26.1"))
}

func TestIsEffective(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.True(t, (&Definition{}).IsEffective(now), "open bounds")
	assert.True(t, (&Definition{EffectiveFrom: &now}).IsEffective(now), "from is inclusive")
	assert.False(t, (&Definition{EffectiveTo: &now}).IsEffective(now), "to is exclusive")
	assert.False(t, (&Definition{EffectiveFrom: &after}).IsEffective(now))
	assert.True(t, (&Definition{EffectiveFrom: &before, EffectiveTo: &after}).IsEffective(now))
}

func TestGroupDeactivation(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	g := &Group{FormType: FormTypePermit, IndustryScope: IndustryScopeAll}

	assert.False(t, g.IsDeactivated(now))
	require.NoError(t, g.CanDeactivate(now.Add(time.Hour), now))
	g.ApplyDeactivation(now.Add(time.Hour), "system upgrade", now)
	assert.True(t, g.IsDeactivated(now))
	assert.False(t, g.IsDeactivated(now.Add(time.Hour)), "window end is exclusive")

	err := g.CanDeactivate(now, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	g.ApplyReactivation(now)
	assert.False(t, g.IsDeactivated(now))
	assert.Empty(t, g.DeactivateReason)

	g.ApplyRetirement(now)
	assert.True(t, dErrors.HasReason(g.CanDeactivate(now.Add(time.Hour), now), ReasonGroupRetired))
	assert.True(t, dErrors.HasReason(g.CanRetire(), ReasonGroupRetired))
}

func TestGroupBusinessTypes(t *testing.T) {
	assert.Nil(t, (&Group{IndustryScope: IndustryScopeAll}).BusinessTypes())
	assert.Nil(t, (&Group{}).BusinessTypes())
	assert.Equal(t, []string{"food_beverages"}, (&Group{IndustryScope: "food_beverages"}).BusinessTypes())
}

func TestDefinitionTransitions(t *testing.T) {
	withSections := []Section{{Category: "Identity", Items: []Item{{Label: "Valid ID", Required: true}}}}
	tests := []struct {
		name     string
		def      Definition
		check    func(*Definition) error
		wantCode dErrors.Code
	}{
		{"edit draft", Definition{Status: StatusDraft}, (*Definition).CanEdit, ""},
		{"edit published", Definition{Status: StatusPublished}, (*Definition).CanEdit, dErrors.CodeConflict},
		{"submit without sections", Definition{Status: StatusDraft}, (*Definition).CanSubmitForApproval, dErrors.CodeValidation},
		{"submit draft", Definition{Status: StatusDraft, Sections: withSections}, (*Definition).CanSubmitForApproval, ""},
		{"submit pending", Definition{Status: StatusPendingApproval, Sections: withSections}, (*Definition).CanSubmitForApproval, dErrors.CodeConflict},
		{"cancel pending", Definition{Status: StatusPendingApproval}, (*Definition).CanCancelApproval, ""},
		{"cancel draft", Definition{Status: StatusDraft}, (*Definition).CanCancelApproval, dErrors.CodeConflict},
		{"publish pending", Definition{Status: StatusPendingApproval, Sections: withSections}, (*Definition).CanPublish, ""},
		{"publish draft without sections", Definition{Status: StatusDraft}, (*Definition).CanPublish, dErrors.CodeValidation},
		{"publish archived", Definition{Status: StatusArchived, Sections: withSections}, (*Definition).CanPublish, dErrors.CodeConflict},
		{"archive published", Definition{Status: StatusPublished}, (*Definition).CanArchive, ""},
		{"archive pending", Definition{Status: StatusPendingApproval}, (*Definition).CanArchive, dErrors.CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(&tt.def)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantCode, dErrors.CodeOf(err))
		})
	}
}

func TestApplyPublishKeepsScheduledStart(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(24 * time.Hour)

	d := &Definition{Status: StatusDraft, EffectiveFrom: &scheduled}
	d.ApplyPublish(now)
	assert.Equal(t, StatusPublished, d.Status)
	assert.Equal(t, now, *d.PublishedAt)
	assert.Equal(t, scheduled, *d.EffectiveFrom)

	d = &Definition{Status: StatusDraft}
	d.ApplyPublish(now)
	assert.Equal(t, now, *d.EffectiveFrom)
}

func TestGroupFilter(t *testing.T) {
	now := time.Now()
	live := &Group{FormType: FormTypePermit}
	retired := &Group{FormType: FormTypePermit, RetiredAt: &now}

	assert.True(t, GroupFilter{}.Matches(live))
	assert.False(t, GroupFilter{}.Matches(retired))
	assert.True(t, GroupFilter{IncludeRetired: true}.Matches(retired))
	assert.False(t, GroupFilter{FormType: FormTypeRenewal}.Matches(live))
}
