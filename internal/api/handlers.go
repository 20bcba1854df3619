package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/AdamTech2025/twitter-autobot/internal/confirm"
	"github.com/AdamTech2025/twitter-autobot/internal/coordinator"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

type runResponse struct {
	Accepted bool              `json:"accepted"`
	Reason   string            `json:"reason,omitempty"`
	RunID    int64             `json:"run_id,omitempty"`
	Summary  *types.RunSummary `json:"summary,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	source, _ := r.Context().Value(sourceKey{}).(types.TriggerSource)

	run, err := s.runner.Start(r.Context(), source)
	if errors.Is(err, coordinator.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, runResponse{Reason: "RunInProgress"})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to start run")
		writeJSON(w, http.StatusInternalServerError, runResponse{Reason: "StartFailed", Error: err.Error()})
		return
	}

	if r.URL.Query().Get("wait") != "1" {
		writeJSON(w, http.StatusAccepted, runResponse{Accepted: true, RunID: run.ID})
		return
	}

	select {
	case <-run.Done():
	case <-r.Context().Done():
		return
	}
	summary, runErr := run.Wait()
	resp := runResponse{Accepted: true, RunID: run.ID, Summary: summary}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.runner.Cancel()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to load run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	out, err := s.confirmer.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.log.WithError(err).Error("confirmation failed")
		http.Error(w, "Something went wrong on our side. Please try the link again later.", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	msg := "Your post is live."
	switch out.Result {
	case confirm.ResultAlreadyUsed:
		status, msg = http.StatusConflict, "This confirmation link was already used or is not valid."
	case confirm.ResultExpired:
		status, msg = http.StatusGone, "This draft expired before it was confirmed. A new one will arrive with the next run."
	case confirm.ResultPublishFailed:
		status, msg = http.StatusBadGateway, "Your draft was confirmed but could not be published."
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s\n%s\n", out.Result, msg)
}

type componentHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthReport struct {
	Ledger    componentHealth `json:"ledger"`
	Generator componentHealth `json:"generator"`
	Notifier  componentHealth `json:"notifier"`
	Publisher componentHealth `json:"publisher"`
	CheckedAt time.Time       `json:"checked_at"`
}

const healthKey = "health"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var report healthReport
	if cached, ok := s.health.Get(healthKey); ok {
		report = cached.(healthReport)
	} else {
		report = s.checkHealth(r.Context())
		s.health.SetDefault(healthKey, report)
	}

	status := http.StatusOK
	if !report.Ledger.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) checkHealth(ctx context.Context) healthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := healthReport{CheckedAt: time.Now().UTC()}
	checks := []struct {
		probe func(context.Context) error
		dst   *componentHealth
	}{
		{s.probes.Ledger, &report.Ledger},
		{s.probes.Generator, &report.Generator},
		{s.probes.Notifier, &report.Notifier},
		{s.probes.Publisher, &report.Publisher},
	}

	var g errgroup.Group
	for _, c := range checks {
		if c.probe == nil {
			c.dst.Error = "not configured"
			continue
		}
		g.Go(func() error {
			if err := c.probe(ctx); err != nil {
				c.dst.Error = err.Error()
				return nil
			}
			c.dst.OK = true
			return nil
		})
	}
	_ = g.Wait()
	return report
}
