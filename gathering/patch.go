package gathering

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GatheringUpdate is a partial update. Nil fields are left unchanged.
type GatheringUpdate struct {
	Title        *string    `json:"title,omitempty" validate:"omitempty,min=1,max=100"`
	Description  *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	ImageURL     *string    `json:"imageUrl,omitempty"`
	MainLocation *string    `json:"mainLocation,omitempty"`
	SubLocation  *string    `json:"subLocation,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	TotalCount   *int       `json:"totalCount,omitempty" validate:"omitempty,min=1"`
	Tags         []string   `json:"tags,omitempty" validate:"omitempty,max=10,dive,min=1,max=20"`
}

func (u GatheringUpdate) Validate() error { return validate.Struct(u) }

// Empty reports whether the update carries no field.
func (u GatheringUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.ImageURL == nil &&
		u.MainLocation == nil && u.SubLocation == nil && u.StartDate == nil &&
		u.EndDate == nil && u.TotalCount == nil && u.Tags == nil
}

// ApplyTo shallow-merges the set fields over g.
func (u GatheringUpdate) ApplyTo(g Gathering) Gathering {
	set(&g.Title, u.Title)
	set(&g.Description, u.Description)
	set(&g.ImageURL, u.ImageURL)
	set(&g.MainLocation, u.MainLocation)
	set(&g.SubLocation, u.SubLocation)
	set(&g.StartDate, u.StartDate)
	set(&g.EndDate, u.EndDate)
	set(&g.TotalCount, u.TotalCount)
	if u.Tags != nil {
		g.Tags = append([]string(nil), u.Tags...)
	}
	return g
}

// ApplyToStatus carries TotalCount into the status aggregate.
// changed is false when the update does not touch it.
func (u GatheringUpdate) ApplyToStatus(s GatheringStatus) (next GatheringStatus, changed bool) {
	if u.TotalCount == nil {
		return s, false
	}
	s.TotalCount = *u.TotalCount
	return s, true
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ChallengeCreate is the payload for a new challenge.
type ChallengeCreate struct {
	Title          string    `json:"title" validate:"required,max=100"`
	Description    string    `json:"description" validate:"max=2000"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	MaxPeopleCount int       `json:"maxPeopleCount" validate:"gte=0"`
	StartDate      time.Time `json:"startDate" validate:"required"`
	EndDate        time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
}

func (c ChallengeCreate) Validate() error { return validate.Struct(c) }

// Placeholder is the record shown in the list until the server's version is refetched:
// zero ids and counters with the supplied fields overlaid.
func (c ChallengeCreate) Placeholder() Challenge {
	return Challenge{
		Title:          c.Title,
		Description:    c.Description,
		ImageURL:       c.ImageURL,
		MaxPeopleCount: c.MaxPeopleCount,
		StartDate:      c.StartDate,
		EndDate:        c.EndDate,
	}
}

// VerificationRequest is the body of a challenge verification.
type VerificationRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
}

func (v VerificationRequest) Validate() error { return validate.Struct(v) }
