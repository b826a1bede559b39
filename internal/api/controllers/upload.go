package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/segmentio/ksuid"

	"github.com/passportvault/passportvault/internal/app"
	"github.com/passportvault/passportvault/internal/domain"
)

type UploadController struct {
	App *app.Context
}

// HandleCreate accepts a multipart passport upload, stores the image in the
// object store, then persists the record pointing at it.
func (ctrl *UploadController) HandleCreate(c *echo.Context) error {
	department := strings.TrimSpace(c.FormValue("department"))
	matricNumber := strings.TrimSpace(c.FormValue("matricNumber"))
	level := strings.TrimSpace(c.FormValue("level"))

	file, err := c.FormFile("passport")
	if err != nil {
		return c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Passport is required"})
	}

	if department == "" || matricNumber == "" {
		return c.JSON(http.StatusBadRequest, Response{Success: false, Message: "All fields are required"})
	}

	if file.Size > ctrl.App.Config.Upload.MaxFileBytes {
		return c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Passport file exceeds the size limit"})
	}

	src, err := file.Open()
	if err != nil {
		ctrl.App.Logger.Error("open uploaded passport for %s: %v", matricNumber, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".jpg"
	}

	ctx := c.Request().Context()

	// Key mirrors the display key plus a timestamp so re-uploads after a
	// delete never overwrite an older object.
	objectKey := fmt.Sprintf("passports/%s_%d%s", matricNumber, time.Now().Unix(), ext)

	url, err := ctrl.App.Objects.Put(ctx, objectKey, src, file.Size, contentType)
	if err != nil {
		ctrl.App.Logger.Error("store passport for %s: %v", matricNumber, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	student := &domain.Student{
		ID:           ksuid.New().String(),
		Department:   department,
		MatricNumber: matricNumber,
		Level:        level,
		PassportURL:  url,
		ObjectKey:    objectKey,
		CreatedAt:    time.Now(),
	}

	if err := ctrl.App.Store.CreateStudent(ctx, student); err != nil {
		// The image is already in the bucket; clean it up so a failed
		// create leaves nothing behind.
		if rmErr := ctrl.App.Objects.Remove(ctx, objectKey); rmErr != nil {
			ctrl.App.Logger.Warn("orphaned object %s after failed create: %v", objectKey, rmErr)
		}

		if errors.Is(err, domain.ErrDuplicateMatric) {
			return c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Matric number already exists"})
		}
		ctrl.App.Logger.Error("create student %s: %v", matricNumber, err)
		return c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "Server error"})
	}

	return c.JSON(http.StatusCreated, Response{Success: true, Message: "Student uploaded successfully"})
}
