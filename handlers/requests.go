package handlers

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"

	"registration-system/services"
)

type individualRegistrationRequest struct {
	CompetitorID string `json:"competitor_id"`
}

func (r *individualRegistrationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CompetitorID, validation.Required, validation.Length(1, 64)),
	)
}

type duoRegistrationRequest struct {
	CompetitorID string `json:"competitor_id"`
	PartnerID    string `json:"partner_id"`
}

func (r *duoRegistrationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CompetitorID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.PartnerID, validation.Required, validation.Length(1, 64),
			validation.NotIn(r.CompetitorID).Error("must differ from competitor_id")),
	)
}

type cancelRegistrationRequest struct {
	Reason string `json:"reason"`
}

func (r *cancelRegistrationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

type createTournamentRequest struct {
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	RegistrationStartDate time.Time `json:"registration_start_date"`
	RegistrationEndDate   time.Time `json:"registration_end_date"`
}

func (r *createTournamentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(2, 120)),
		validation.Field(&r.Description, validation.Length(0, 2000)),
		validation.Field(&r.RegistrationStartDate, validation.Required),
		validation.Field(&r.RegistrationEndDate, validation.Required),
	)
}

func (r *createTournamentRequest) input() services.CreateTournamentInput {
	return services.CreateTournamentInput{
		Name:                  r.Name,
		Description:           r.Description,
		StartTime:             r.StartTime,
		EndTime:               r.EndTime,
		RegistrationStartDate: r.RegistrationStartDate,
		RegistrationEndDate:   r.RegistrationEndDate,
	}
}

type validatable interface {
	Validate() error
}

// bind decodes the JSON body into req and validates it. An empty body is
// accepted and validated as the zero value.
func bind(c *fiber.Ctx, req validatable) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
	}
	return req.Validate()
}
