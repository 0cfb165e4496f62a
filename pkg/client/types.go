package client

import "time"

// Status mirrors GET /v1/status.
type Status struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	TotalIssued   uint64 `json:"total_issued"`
	Storage       string `json:"storage"`
	EventsEnabled bool   `json:"events_enabled"`
}

// Course is a course row. Timestamps are only set by ListCourses.
type Course struct {
	CourseID  uint64    `json:"course_id"`
	IsValid   bool      `json:"is_valid"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Certificate mirrors the daemon's certificate representation.
type Certificate struct {
	CertificateID uint64     `json:"certificate_id"`
	Recipient     string     `json:"recipient"`
	CourseID      uint64     `json:"course_id"`
	CourseTitle   string     `json:"course_title"`
	Level         string     `json:"level"`
	MetadataURI   string     `json:"metadata_uri"`
	IsMinted      bool       `json:"is_minted"`
	Owner         string     `json:"owner,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	MintedAt      *time.Time `json:"minted_at,omitempty"`
}

// Token is a minted certificate viewed as a token.
type Token struct {
	TokenID  uint64 `json:"token_id"`
	Owner    string `json:"owner"`
	TokenURI string `json:"token_uri"`
}

// IssueRequest is the body of POST /v1/certificates.
type IssueRequest struct {
	Recipient   string `json:"recipient"`
	CourseID    uint64 `json:"course_id"`
	CourseTitle string `json:"course_title,omitempty"`
	Level       string `json:"level,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`
}
