package echoapi

import (
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/batch"
	"github.com/trezcool/gradebook/core/notify"
	"github.com/trezcool/gradebook/core/sheet"
)

type gradebookApi struct {
	svc      *batch.Service
	validate *validator.Validate
}

func registerGradebookAPI(g *echo.Group, svc *batch.Service, validate *validator.Validate) {
	api := gradebookApi{svc: svc, validate: validate}

	cg := g.Group("/classes")
	cg.POST("", api.createClass)
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id/scheme", api.setScheme)
	cg.POST("/:id/upload", api.upload, middleware.BodyLimit(maxUploadSize))
	cg.GET("/:id/batch", api.retrieveClassBatch)
	cg.GET("/:id/average", api.classAverage)
	cg.GET("/:id/report", api.classReport)
	cg.GET("/:id/students/:number/grade", api.studentGrade)
	cg.GET("/:id/students/:number/grades", api.studentView)

	bg := g.Group("/batches/:id")
	bg.GET("", api.retrieveBatch)
	bg.DELETE("", api.destroyBatch)
	bg.POST("/reconcile", api.reconcile)
	bg.PUT("/maxima", api.updateMaxima)
	bg.PUT("/visibility", api.setVisibility)
	bg.POST("/visibility/:assessment/toggle", api.toggleVisibility)
	bg.POST("/notifications", api.scheduleNotification)
	bg.POST("/notifications/:assessment/flush", api.flushNotification)
}

// Handlers

func (api *gradebookApi) createClass(ctx echo.Context) error {
	var data CreateClassRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	class, err := api.svc.CreateClass(ctx.Request().Context(), data.Name, data.TeacherID, data.GradingScheme)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, class)
}

func (api *gradebookApi) retrieveClass(ctx echo.Context) error {
	class, err := api.svc.GetClass(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *gradebookApi) setScheme(ctx echo.Context) error {
	var data SchemeRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	class, err := api.svc.SetGradingScheme(ctx.Request().Context(), ctx.Param("id"), data.GradingScheme)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *gradebookApi) upload(ctx echo.Context) error {
	var data UploadRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "a spreadsheet file is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "reading upload")
	}

	b, err := api.svc.Upload(ctx.Request().Context(), ctx.Param("id"), data.mode(), sheet.FileSource{Name: fh.Filename, Data: content})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) reconcile(ctx echo.Context) error {
	var data GridRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	table, err := api.svc.ParseAndValidate(sheet.GridSource{Title: data.Title, Rows: data.Rows})
	if err != nil {
		return err
	}
	b, err := api.svc.Reconcile(ctx.Request().Context(), ctx.Param("id"), data.mode(), table)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) retrieveClassBatch(ctx echo.Context) error {
	b, err := api.svc.ClassBatch(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) retrieveBatch(ctx echo.Context) error {
	b, err := api.svc.GetBatch(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) destroyBatch(ctx echo.Context) error {
	if err := api.svc.DeleteBatch(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *gradebookApi) classAverage(ctx echo.Context) error {
	avg, err := api.svc.ComputeClassAverage(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"class_id": ctx.Param("id"), "average": avg})
}

func (api *gradebookApi) classReport(ctx echo.Context) error {
	report, err := api.svc.ClassReport(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *gradebookApi) studentGrade(ctx echo.Context) error {
	g, err := api.svc.ComputeGrade(ctx.Request().Context(), ctx.Param("number"), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"student_number": ctx.Param("number"), "grade": g})
}

func (api *gradebookApi) studentView(ctx echo.Context) error {
	view, err := api.svc.StudentView(ctx.Request().Context(), ctx.Param("number"), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *gradebookApi) updateMaxima(ctx echo.Context) error {
	var data MaximaRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	b, err := api.svc.UpdateMaxima(ctx.Request().Context(), ctx.Param("id"), data.Maxima)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) setVisibility(ctx echo.Context) error {
	var data VisibilityRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	b, err := api.svc.SetAssessmentVisibility(ctx.Request().Context(), ctx.Param("id"), data.Assessments)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newBatchResponse(b))
}

func (api *gradebookApi) toggleVisibility(ctx echo.Context) error {
	b, visible, err := api.svc.ToggleAssessmentVisibility(ctx.Request().Context(), ctx.Param("id"), ctx.Param("assessment"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"assessment": ctx.Param("assessment"), "visible": visible, "batch": newBatchResponse(b)})
}

func (api *gradebookApi) scheduleNotification(ctx echo.Context) error {
	var data ScheduleRequest
	if err := bindAndValidate(ctx, api.validate, &data); err != nil {
		return err
	}
	err := api.svc.ScheduleVisibilityNotification(ctx.Request().Context(), ctx.Param("id"), data.Assessment, notify.Kind(data.Kind))
	if err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (api *gradebookApi) flushNotification(ctx echo.Context) error {
	flushed := api.svc.FlushVisibilityNotification(ctx.Param("id"), ctx.Param("assessment"))
	return ctx.JSON(http.StatusOK, echo.Map{"flushed": flushed})
}

// batchResponse exposes the visible assessments, which Batch keeps out of its JSON form.
type batchResponse struct {
	batch.Batch
	VisibleAssessments []string `json:"visible_assessments"`
}

func newBatchResponse(b batch.Batch) batchResponse {
	return batchResponse{Batch: b, VisibleAssessments: b.VisibleAssessments()}
}
