package api

import (
	"encoding/json"
	"net/http"

	"healthloop/internal/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON sends v with status. The header is already out when encoding
// fails, so the failure can only be logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode %T response: %v", v, err)
	}
}

// writeError maps err to a status through its error code
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func badRequest(err error) error {
	return errors.WithCode(errors.CodeInvalidInput, err)
}

// decode reads a JSON body into dst and runs its validate tags
func (s *Server) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest(err)
	}
	return nil
}
