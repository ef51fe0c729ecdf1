package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	dErrors "bizportal/pkg/domain-errors"
)

// FormType is the kind of business form a definition describes.
type FormType string

const (
	FormTypeRegistration FormType = "registration"
	FormTypePermit       FormType = "permit"
	FormTypeRenewal      FormType = "renewal"
	FormTypeCessation    FormType = "cessation"
	FormTypeViolation    FormType = "violation"
	FormTypeAppeal       FormType = "appeal"
	FormTypeInspections  FormType = "inspections"
)

var formTypeLabels = map[FormType]string{
	FormTypeRegistration: "Business Registration",
	FormTypePermit:       "Business Permit",
	FormTypeRenewal:      "Business Renewal",
	FormTypeCessation:    "Cessation",
	FormTypeViolation:    "Violation",
	FormTypeAppeal:       "Appeal",
	FormTypeInspections:  "Inspections",
}

func (t FormType) IsValid() bool {
	_, ok := formTypeLabels[t]
	return ok
}

// Label is the display name used when a group is created without one.
func (t FormType) Label() string {
	return formTypeLabels[t]
}

// DefinitionStatus is the lifecycle state of a definition version.
type DefinitionStatus string

const (
	StatusDraft           DefinitionStatus = "draft"
	StatusPendingApproval DefinitionStatus = "pending_approval"
	StatusPublished       DefinitionStatus = "published"
	StatusArchived        DefinitionStatus = "archived"
)

// IndustryScopeAll marks a group that targets every business type.
const IndustryScopeAll = "all"

const (
	ReasonTemporarilyUnavailable = "temporarily_unavailable"
	ReasonInvalidTransition      = "invalid_transition"
	ReasonNoSections             = "no_sections"
	ReasonGroupExists            = "group_exists"
	ReasonGroupRetired           = "group_retired"
)

// Group is a form (type plus industry scope) with many definition versions.
// At most one live group exists per (FormType, IndustryScope).
type Group struct {
	ID               uuid.UUID  `json:"id"`
	FormType         FormType   `json:"formType"`
	IndustryScope    string     `json:"industryScope"`
	Name             string     `json:"name"`
	RetiredAt        *time.Time `json:"retiredAt,omitempty"`
	DeactivatedUntil *time.Time `json:"deactivatedUntil,omitempty"`
	DeactivateReason string     `json:"deactivateReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Version          int64      `json:"version"`
}

func (g *Group) IsRetired() bool {
	return g.RetiredAt != nil
}

// IsDeactivated reports whether now falls inside the deactivation window.
func (g *Group) IsDeactivated(now time.Time) bool {
	return g.DeactivatedUntil != nil && now.Before(*g.DeactivatedUntil)
}

// BusinessTypes is the targeting set new versions of the group start with.
func (g *Group) BusinessTypes() []string {
	if g.IndustryScope == "" || g.IndustryScope == IndustryScopeAll {
		return nil
	}
	return []string{g.IndustryScope}
}

func (g *Group) CanDeactivate(until, now time.Time) error {
	if g.IsRetired() {
		return dErrors.New(dErrors.CodeConflict, "cannot deactivate a retired form group").WithReason(ReasonGroupRetired)
	}
	if !until.After(now) {
		return dErrors.New(dErrors.CodeValidation, "deactivated until must be in the future")
	}
	return nil
}

func (g *Group) ApplyDeactivation(until time.Time, reason string, now time.Time) {
	u := until.UTC()
	g.DeactivatedUntil = &u
	g.DeactivateReason = reason
	g.UpdatedAt = now
}

func (g *Group) ApplyReactivation(now time.Time) {
	g.DeactivatedUntil = nil
	g.DeactivateReason = ""
	g.UpdatedAt = now
}

func (g *Group) CanRetire() error {
	if g.IsRetired() {
		return dErrors.New(dErrors.CodeConflict, "form group is already retired").WithReason(ReasonGroupRetired)
	}
	return nil
}

func (g *Group) ApplyRetirement(now time.Time) {
	g.RetiredAt = &now
	g.UpdatedAt = now
}

// Item is one requirement line inside a section.
type Item struct {
	Label    string `json:"label" yaml:"label"`
	Required bool   `json:"required" yaml:"required"`
}

// Section groups requirement items under a category.
type Section struct {
	Category string `json:"category" yaml:"category"`
	Source   string `json:"source,omitempty" yaml:"source"`
	Notes    string `json:"notes,omitempty" yaml:"notes"`
	Items    []Item `json:"items" yaml:"items"`
}

// Definition is one version of a group's form.
//
// Invariants:
//   - only drafts are editable
//   - a definition needs at least one section to leave draft
//   - at most one definition per group is published
type Definition struct {
	ID                uuid.UUID        `json:"id"`
	GroupID           uuid.UUID        `json:"groupId"`
	FormType          FormType         `json:"formType"`
	Version           string           `json:"version"`
	Name              string           `json:"name"`
	Status            DefinitionStatus `json:"status"`
	BusinessTypes     []string         `json:"businessTypes"`
	JurisdictionCodes []string         `json:"jurisdictionCodes"`
	EffectiveFrom     *time.Time       `json:"effectiveFrom,omitempty"`
	EffectiveTo       *time.Time       `json:"effectiveTo,omitempty"`
	Sections          []Section        `json:"sections"`
	PublishedAt       *time.Time       `json:"publishedAt,omitempty"`
	CreatedBy         string           `json:"createdBy"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// IsEffective reports effectiveFrom <= now < effectiveTo, nil bounds open.
func (d *Definition) IsEffective(now time.Time) bool {
	if d.EffectiveFrom != nil && now.Before(*d.EffectiveFrom) {
		return false
	}
	if d.EffectiveTo != nil && !now.Before(*d.EffectiveTo) {
		return false
	}
	return true
}

func (d *Definition) CanEdit() error {
	if d.Status != StatusDraft {
		return d.transitionError("only draft versions can be edited")
	}
	return nil
}

func (d *Definition) CanSubmitForApproval() error {
	if d.Status != StatusDraft {
		return d.transitionError("only draft versions can be submitted for approval")
	}
	return d.requireSections()
}

func (d *Definition) CanCancelApproval() error {
	if d.Status != StatusPendingApproval {
		return d.transitionError("version is not pending approval")
	}
	return nil
}

func (d *Definition) CanPublish() error {
	if d.Status != StatusDraft && d.Status != StatusPendingApproval {
		return d.transitionError("only draft or pending versions can be published")
	}
	return d.requireSections()
}

func (d *Definition) CanArchive() error {
	if d.Status != StatusPublished && d.Status != StatusDraft {
		return d.transitionError("only published or draft versions can be archived")
	}
	return nil
}

// ApplyPublish marks d published at now. An unset EffectiveFrom starts now.
func (d *Definition) ApplyPublish(now time.Time) {
	d.Status = StatusPublished
	d.PublishedAt = &now
	if d.EffectiveFrom == nil {
		d.EffectiveFrom = &now
	}
	d.UpdatedAt = now
}

func (d *Definition) ApplyStatus(status DefinitionStatus, now time.Time) {
	d.Status = status
	d.UpdatedAt = now
}

func (d *Definition) requireSections() error {
	if len(d.Sections) == 0 {
		return dErrors.New(dErrors.CodeValidation, "add at least one section first").WithReason(ReasonNoSections)
	}
	return nil
}

func (d *Definition) transitionError(msg string) error {
	return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("%s (status %s)", msg, d.Status)).WithReason(ReasonInvalidTransition)
}

var versionPattern = regexp.MustCompile(`^(\d{4})\.(\d+)$`)

// NextVersion returns "<year>.<n>" where n is one past the highest existing
// number for that year.
func NextVersion(existing []string, year int) string {
	next := 1
	for _, v := range existing {
		m := versionPattern.FindStringSubmatch(v)
		if m == nil {
			continue
		}
		y, _ := strconv.Atoi(m[1])
		n, _ := strconv.Atoi(m[2])
		if y == year && n >= next {
			next = n + 1
		}
	}
	return fmt.Sprintf("%d.%d", year, next)
}

// ValidVersion reports whether v has the YYYY.N shape.
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// Query is a resolve request from an applicant.
type Query struct {
	FormType         FormType
	BusinessType     string
	JurisdictionCode string
}

// Unavailable is returned when the resolved form's group is deactivated.
type Unavailable struct {
	ReactivateAt time.Time `json:"reactivateAt"`
	Reason       string    `json:"reason"`
}

func (u *Unavailable) Error() string {
	return "form temporarily unavailable until " + u.ReactivateAt.Format(time.RFC3339)
}

func (u *Unavailable) ErrorDetails() any {
	return u
}

// GroupFilter selects groups for ListGroups.
type GroupFilter struct {
	FormType       FormType
	IncludeRetired bool
}

func (f GroupFilter) Matches(g *Group) bool {
	if f.FormType != "" && g.FormType != f.FormType {
		return false
	}
	return f.IncludeRetired || !g.IsRetired()
}

// GroupDetails is a group with its versions, newest first.
type GroupDetails struct {
	Group    *Group        `json:"group"`
	Versions []*Definition `json:"versions"`
}

// DefinitionUpdate carries the editable fields of a draft. Nil fields are
// left unchanged.
type DefinitionUpdate struct {
	Name              *string
	BusinessTypes     *[]string
	JurisdictionCodes *[]string
	Sections          *[]Section
	EffectiveFrom     *time.Time
	EffectiveTo       *time.Time
	ClearEffectiveTo  bool
}
