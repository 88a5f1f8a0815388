package echoapi

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
)

type (
	CreateClassRequest struct {
		Name          string `json:"name" validate:"required,notblank"`
		TeacherID     string `json:"teacher_id" validate:"required,uuid"`
		GradingScheme string `json:"grading_scheme"`
	}

	SchemeRequest struct {
		GradingScheme string `json:"grading_scheme" validate:"required,notblank"`
	}

	UploadRequest struct {
		Mode string `json:"mode" form:"mode" query:"mode" validate:"uploadmode"`
	}

	GridRequest struct {
		Mode  string          `json:"mode" validate:"uploadmode"`
		Title string          `json:"title"`
		Rows  [][]interface{} `json:"rows" validate:"required,min=1"`
	}

	MaximaRequest struct {
		Maxima map[string]int `json:"maxima" validate:"required,dive,keys,notblank,endkeys,min=0"`
	}

	VisibilityRequest struct {
		Assessments []string `json:"assessments" validate:"dive,notblank"`
	}

	ScheduleRequest struct {
		Assessment string `json:"assessment" validate:"required,notblank"`
		Kind       string `json:"kind" validate:"required,oneof=add remove"`
	}
)

// bindAndValidate binds the request into `data` and runs its validation tags.
func bindAndValidate(ctx echo.Context, validate *validator.Validate, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return errors.Wrapf(err, "binding to %T", data)
	}
	return validate.Struct(data)
}

func (r UploadRequest) mode() batch.Mode {
	mode, _ := batch.ParseMode(r.Mode) // already validated
	return mode
}

func (r GridRequest) mode() batch.Mode {
	mode, _ := batch.ParseMode(r.Mode)
	return mode
}

// queryLimit reads a positive `limit` query parameter.
func queryLimit(ctx echo.Context) (int, error) {
	raw := ctx.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, core.NewValidationError(nil, core.FieldError{Field: "limit", Error: "must be a positive integer"})
	}
	return limit, nil
}
