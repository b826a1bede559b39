package controllers

import "github.com/passportvault/passportvault/internal/domain"

// Response is the generic success/message envelope the admin UI expects.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type StudentListResponse struct {
	Success  bool             `json:"success"`
	Students []domain.Student `json:"students"`
}

type DepartmentsResponse struct {
	Success     bool     `json:"success"`
	Departments []string `json:"departments"`
}
