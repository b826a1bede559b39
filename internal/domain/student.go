package domain

import (
	"strings"
	"time"
)

// Student represents one passport record: who uploaded it and where the
// image lives in the object store.
type Student struct {
	ID           string    `json:"id"`
	Department   string    `json:"department"`
	MatricNumber string    `json:"matricNumber"`
	Level        string    `json:"level,omitempty"`
	PassportURL  string    `json:"passport"`
	ObjectKey    string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StudentFilter narrows a listing or batch download. An empty filter matches
// everything on listing but is rejected for batch downloads.
type StudentFilter struct {
	Department string
	Level      string
}

func (f StudentFilter) Empty() bool {
	return f.Department == "" && f.Level == ""
}

// ArchiveName derives the zip filename from the non-empty filter values,
// e.g. {CS, 300} -> "CS_300L_passports.zip".
func (f StudentFilter) ArchiveName() string {
	parts := make([]string, 0, 3)
	if f.Department != "" {
		parts = append(parts, f.Department)
	}
	if f.Level != "" {
		parts = append(parts, renderLevel(f.Level))
	}
	parts = append(parts, "passports")
	return strings.Join(parts, "_") + ".zip"
}

// renderLevel appends the conventional "L" suffix to bare numeric levels.
func renderLevel(level string) string {
	for _, r := range level {
		if r < '0' || r > '9' {
			return level
		}
	}
	return level + "L"
}
