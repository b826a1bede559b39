package app

import (
	"context"
	"io"

	"github.com/passportvault/passportvault/internal/domain"
	"github.com/passportvault/passportvault/internal/infra/config"
	"github.com/passportvault/passportvault/internal/infra/logger"
)

type RecordStore interface {
	CreateStudent(ctx context.Context, st *domain.Student) error
	ListStudents(ctx context.Context, filter domain.StudentFilter) ([]domain.Student, error)
	GetStudent(ctx context.Context, id string) (*domain.Student, error)
	DeleteStudent(ctx context.Context, id string) error
	Departments(ctx context.Context) ([]string, error)
}

type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, objectKey string) error
	ObjectURL(objectKey string) string
}

type Fetcher interface {
	// This allows controllers and the batch session to open remote image
	// streams without importing the fetch package
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Context holds the core environment and shared resources for the service.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// High-level interfaces for controllers to use
	Store   RecordStore
	Objects ObjectStore
	Fetcher Fetcher
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
