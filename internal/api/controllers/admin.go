package controllers

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/passportvault/passportvault/internal/app"
	"github.com/passportvault/passportvault/internal/archive"
	"github.com/passportvault/passportvault/internal/batch"
	"github.com/passportvault/passportvault/internal/domain"
)

type AdminController struct {
	App *app.Context
}

func (ctrl *AdminController) filterFromQuery(c *echo.Context) domain.StudentFilter {
	return domain.StudentFilter{
		Department: strings.TrimSpace(c.QueryParam("department")),
		Level:      strings.TrimSpace(c.QueryParam("level")),
	}
}

// HandleList returns students matching the filter; an empty filter returns
// every record, newest first.
func (ctrl *AdminController) HandleList(c *echo.Context) error {
	students, err := ctrl.App.Store.ListStudents(c.Request().Context(), ctrl.filterFromQuery(c))
	if err != nil {
		ctrl.App.Logger.Error("list students: %v", err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	if students == nil {
		students = []domain.Student{}
	}
	return c.JSON(http.StatusOK, StudentListResponse{Success: true, Students: students})
}

func (ctrl *AdminController) HandleDepartments(c *echo.Context) error {
	departments, err := ctrl.App.Store.Departments(c.Request().Context())
	if err != nil {
		ctrl.App.Logger.Error("list departments: %v", err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	if departments == nil {
		departments = []string{}
	}
	return c.JSON(http.StatusOK, DepartmentsResponse{Success: true, Departments: departments})
}

// HandleBatchDownload streams a zip of every matching passport. The archive
// starts flowing before all images are fetched; per-image failures are
// absorbed so the client still gets the successful subset.
func (ctrl *AdminController) HandleBatchDownload(c *echo.Context) error {
	filter := ctrl.filterFromQuery(c)
	if filter.Empty() {
		return c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Department or level is required"})
	}

	ctx := c.Request().Context()

	students, err := ctrl.App.Store.ListStudents(ctx, filter)
	if err != nil {
		ctrl.App.Logger.Error("list students for batch download: %v", err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}
	if len(students) == 0 {
		return c.JSON(http.StatusNotFound, Response{Success: false, Message: "No students found for this filter"})
	}

	cfg := ctrl.App.Config.Batch

	mode := archive.ModeDeflate
	if cfg.Compression == "store" {
		mode = archive.ModeStore
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filter.ArchiveName()))
	res.WriteHeader(http.StatusOK)

	writer := archive.NewWriter(res, mode)

	session := batch.NewSession(
		batch.CandidatesFor(students),
		writer,
		ctrl.App.Fetcher,
		ctrl.App.Logger,
		batch.Options{
			GroupSize:  cfg.GroupSize,
			GroupPause: time.Duration(cfg.GroupPauseMS) * time.Millisecond,
			KeepAlive:  time.Duration(cfg.KeepAliveSec) * time.Second,
			Deadline:   time.Duration(cfg.DeadlineSec) * time.Second,
		},
	)
	// Flushing goes through the writer so it is serialized with entry
	// writes instead of racing them on the response.
	session.SetFlusher(writer)

	// The request context is cancelled when the client disconnects, which
	// Run observes at the next group boundary. Headers are already out, so
	// any late failure just truncates the stream.
	if err := session.Run(ctx); err != nil {
		ctrl.App.Logger.Warn("batch download for %s ended early: %v", filter.ArchiveName(), err)
	}

	return nil
}

// HandleDownload proxies a single passport image as an attachment.
func (ctrl *AdminController) HandleDownload(c *echo.Context) error {
	id := c.Param("id")

	student, err := ctrl.App.Store.GetStudent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, Response{Success: false, Message: "Student not found"})
		}
		ctrl.App.Logger.Error("get student %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	body, err := ctrl.App.Fetcher.Fetch(c.Request().Context(), student.PassportURL)
	if err != nil {
		ctrl.App.Logger.Error("fetch passport for %s: %v", student.MatricNumber, err)
		return c.JSON(http.StatusBadGateway, Response{Success: false, Message: "Passport image unavailable"})
	}
	defer body.Close()

	ext := extensionFromURL(student.PassportURL)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", student.MatricNumber+ext))
	return c.Stream(http.StatusOK, contentType, body)
}

// HandleDelete removes the record and best-effort deletes the stored image.
// A second delete of the same id returns 404.
func (ctrl *AdminController) HandleDelete(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	student, err := ctrl.App.Store.GetStudent(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, Response{Success: false, Message: "Student not found"})
		}
		ctrl.App.Logger.Error("get student %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	// Image removal failing must not block the record delete.
	if err := ctrl.App.Objects.Remove(ctx, student.ObjectKey); err != nil {
		ctrl.App.Logger.Warn("remove stored image for %s: %v", student.MatricNumber, err)
	}

	if err := ctrl.App.Store.DeleteStudent(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, Response{Success: false, Message: "Student not found"})
		}
		ctrl.App.Logger.Error("delete student %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	return c.JSON(http.StatusOK, Response{Success: true, Message: "Student deleted successfully"})
}

func extensionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		return ext
	}
	return ".jpg"
}
