package store

import (
	"time"

	"github.com/passportvault/passportvault/internal/domain"
)

// studentDBO maps to the students table
type studentDBO struct {
	ID           string `db:"id"`
	Department   string `db:"department"`
	MatricNumber string `db:"matric_number"`
	Level        string `db:"level"`
	PassportURL  string `db:"passport_url"`
	ObjectKey    string `db:"object_key"`
	CreatedAt    int64  `db:"created_at"`
}

// Mapper: DBO to Domain Student
func (d *studentDBO) ToDomain() *domain.Student {
	return &domain.Student{
		ID:           d.ID,
		Department:   d.Department,
		MatricNumber: d.MatricNumber,
		Level:        d.Level,
		PassportURL:  d.PassportURL,
		ObjectKey:    d.ObjectKey,
		CreatedAt:    time.Unix(d.CreatedAt, 0),
	}
}

// Mapper: Domain Student to DBO
func (d *studentDBO) FromDomain(st *domain.Student) {
	d.ID = st.ID
	d.Department = st.Department
	d.MatricNumber = st.MatricNumber
	d.Level = st.Level
	d.PassportURL = st.PassportURL
	d.ObjectKey = st.ObjectKey

	if !st.CreatedAt.IsZero() {
		d.CreatedAt = st.CreatedAt.Unix()
	} else {
		d.CreatedAt = time.Now().Unix()
	}
}
