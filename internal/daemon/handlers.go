package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

// Request bodies

type issueRequest struct {
	Recipient   string  `json:"recipient" validate:"required,eth_addr"`
	CourseID    *uint64 `json:"course_id" validate:"required"`
	CourseTitle string  `json:"course_title" validate:"max=256"`
	Level       string  `json:"level" validate:"max=64"`
	MetadataURI string  `json:"metadata_uri" validate:"max=2048"`
}

type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner" validate:"required,eth_addr"`
}

// Responses

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Owner         domain.Address `json:"owner"`
	Name          string         `json:"name"`
	Symbol        string         `json:"symbol"`
	TotalIssued   uint64         `json:"total_issued"`
	Storage       string         `json:"storage"`
	EventsEnabled bool           `json:"events_enabled"`
}

// CourseResponse reports a course's validity.
type CourseResponse struct {
	CourseID domain.CourseID `json:"course_id"`
	IsValid  bool            `json:"is_valid"`
}

// TokenResponse reports a minted certificate's owner and URI.
type TokenResponse struct {
	TokenID  domain.CertificateID `json:"token_id"`
	Owner    domain.Address       `json:"owner"`
	TokenURI string               `json:"token_uri"`
}

// UserCertificatesResponse lists ids issued to an address in issuance order.
type UserCertificatesResponse struct {
	Address        domain.Address         `json:"address"`
	CertificateIDs []domain.CertificateID `json:"certificate_ids"`
}

// BalanceResponse reports how many minted tokens an address owns.
type BalanceResponse struct {
	Address domain.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// OwnerResponse names the registry owner.
type OwnerResponse struct {
	Owner domain.Address `json:"owner"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sum, err := s.cfg.Registry.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Owner:         sum.Owner,
		Name:          sum.Name,
		Symbol:        sum.Symbol,
		TotalIssued:   sum.TotalIssued,
		Storage:       s.cfg.StorageDriver,
		EventsEnabled: s.cfg.EventsEnabled,
	})
}

// Ownership

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := s.cfg.Registry.Owner(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: owner})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferOwnershipRequest
	if !s.decode(w, r, &req) {
		return
	}
	next, err := domain.ParseAddress(req.NewOwner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.cfg.Registry.TransferOwnership(r.Context(), CallerFrom(r.Context()), next); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: next.Normalized()})
}

// Courses

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.cfg.Registry.ListCourses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"courses": courses,
		"count":   len(courses),
	})
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCourseID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	valid, err := s.cfg.Registry.IsCourseValid(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CourseResponse{CourseID: id, IsValid: valid})
}

func (s *Server) handleAddCourse(w http.ResponseWriter, r *http.Request) {
	s.setCourse(w, r, true)
}

func (s *Server) handleRemoveCourse(w http.ResponseWriter, r *http.Request) {
	s.setCourse(w, r, false)
}

func (s *Server) setCourse(w http.ResponseWriter, r *http.Request, valid bool) {
	id, err := domain.ParseCourseID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	caller := CallerFrom(r.Context())
	if valid {
		err = s.cfg.Registry.AddCourse(r.Context(), caller, id)
	} else {
		err = s.cfg.Registry.RemoveCourse(r.Context(), caller, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CourseResponse{CourseID: id, IsValid: valid})
}

// Certificates

func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !s.decode(w, r, &req) {
		return
	}
	recipient, err := domain.ParseAddress(req.Recipient)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cert, err := s.cfg.Registry.IssueCertificate(r.Context(), CallerFrom(r.Context()), domain.IssueParams{
		Recipient:   recipient,
		CourseID:    domain.CourseID(*req.CourseID),
		CourseTitle: req.CourseTitle,
		Level:       req.Level,
		MetadataURI: req.MetadataURI,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/certificates/%d", cert.ID))
	writeJSON(w, http.StatusCreated, cert)
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCertificateID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	cert, err := s.cfg.Registry.GetCertificate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleMintCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCertificateID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	cert, err := s.cfg.Registry.MintCertificate(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// Tokens & addresses

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCertificateID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner, err := s.cfg.Registry.OwnerOf(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uri, err := s.cfg.Registry.TokenURI(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{TokenID: id, Owner: owner, TokenURI: uri})
}

func (s *Server) handleUserCertificates(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := s.cfg.Registry.UserCertificates(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserCertificatesResponse{Address: addr.Normalized(), CertificateIDs: ids})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.cfg.Registry.BalanceOf(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: addr.Normalized(), Balance: n})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeAPIError(w, r, http.StatusBadRequest,
			NewAPIError(CodeBadRequest, "invalid request body").WithCause(err))
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeAPIError(w, r, http.StatusBadRequest,
			NewAPIError(CodeValidationError, "request validation failed").
				WithDetails(validationDetails(err)).
				WithCause(err))
		return false
	}
	return true
}

// validationDetails maps json field names to the failed rule.
func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return details
	}
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
