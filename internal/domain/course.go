package domain

import (
	"fmt"
	"strconv"
	"time"
)

// CourseID identifies a course in the registry.
type CourseID uint64

// ParseCourseID parses a decimal course id. Ids fit in a signed 64-bit column.
func ParseCourseID(s string) (CourseID, error) {
	v, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: course id %q", ErrInvalidInput, s)
	}
	return CourseID(v), nil
}

func (id CourseID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Course is a catalog entry whose only on-ledger attribute is validity.
// Rows are never deleted; removal clears Valid.
type Course struct {
	ID        CourseID  `json:"course_id"`
	Valid     bool      `json:"is_valid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCourse creates a valid course.
func NewCourse(id CourseID, now time.Time) *Course {
	return &Course{
		ID:        id,
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetValid toggles validity and reports whether anything changed.
func (c *Course) SetValid(valid bool, now time.Time) bool {
	if c.Valid == valid {
		return false
	}
	c.Valid = valid
	c.UpdatedAt = now
	return true
}
