package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"healthloop/domain/core"
	"healthloop/domain/experiment"
)

type attributionRequest struct {
	Exposures []core.ExposureKey `json:"exposures" validate:"dive,required"`
	Start     core.Day           `json:"start"`
	End       core.Day           `json:"end"`
}

type createExperimentRequest struct {
	UserID       core.UserID      `json:"user_id" validate:"required"`
	Intervention core.ExposureKey `json:"intervention" validate:"required"`
	Outcome      core.MetricKey   `json:"outcome" validate:"required"`
	Baseline     core.Window      `json:"baseline_window"`
	Treatment    core.Window      `json:"intervention_window"`
}

type advanceRequest struct {
	Status experiment.Status `json:"status" validate:"oneof=designed baseline_collecting intervention_active evaluated closed"`
}

func userAndMetric(r *http.Request) (core.UserID, core.MetricKey, error) {
	user, err := core.ParseUserID(chi.URLParam(r, "user"))
	if err != nil {
		return "", "", badRequest(err)
	}
	key, err := core.ParseMetricKey(chi.URLParam(r, "metric"))
	if err != nil {
		return "", "", badRequest(err)
	}
	return user, key, nil
}

// dayParam reads a YYYY-MM-DD value, falling back to today when blank
func dayParam(s string) (core.Day, error) {
	if s == "" {
		return core.Today(), nil
	}
	d, err := core.ParseDay(s)
	if err != nil {
		return core.Day{}, badRequest(err)
	}
	return d, nil
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	user, key, err := userAndMetric(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asOf := r.URL.Query().Get("as_of")
	if asOf == "" {
		b, err := s.loop.ComputeBaseline(r.Context(), user, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, b)
		return
	}
	day, err := dayParam(asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.loop.ComputeBaselineAsOf(r.Context(), user, key, day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	user, key, err := userAndMetric(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := dayParam(r.URL.Query().Get("day"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.loop.RunDetectors(r.Context(), user, key, day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	user, key, err := userAndMetric(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req attributionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		s.writeError(w, r, badRequest(fmt.Errorf("start and end are required")))
		return
	}
	window, err := core.NewWindow(req.Start, req.End)
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	cands, err := s.loop.RunAttribution(r.Context(), user, key, req.Exposures, window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cands)
}

func (s *Server) handleRunDay(w http.ResponseWriter, r *http.Request) {
	user, err := core.ParseUserID(chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	day, err := dayParam(chi.URLParam(r, "day"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.loop.RunDay(r.Context(), user, day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(chi.URLParam(r, "day"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.batch.RunDay(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	exp, err := s.loop.CreateExperiment(r.Context(), req.UserID, req.Intervention, req.Outcome, req.Baseline, req.Treatment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleAdvanceExperiment(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var req advanceRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	exp, err := s.loop.AdvanceExperiment(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	result, err := s.loop.Evaluate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseEvaluationID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	decision, err := s.loop.DecideNextStep(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conf, err1 := strconv.ParseFloat(q.Get("confidence"), 64)
	n, err2 := strconv.Atoi(q.Get("n"))
	cov, err3 := strconv.ParseFloat(q.Get("coverage"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("confidence, n and coverage must be numeric")))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"grade": string(s.loop.Grade(conf, n, cov))})
}
