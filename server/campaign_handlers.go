package server

import (
	"net/http"

	"github.com/relayloop/campaignd/campaign"
	"github.com/relayloop/campaignd/job"
)

type createCampaignRequest struct {
	Name string `json:"name"`
}

type campaignResponse struct {
	Campaign *campaign.Campaign `json:"campaign"`
	Jobs     map[string]int     `json:"jobs"`
}

// handleCreateCampaign creates a campaign with its initial fetch-leads job.
// The job stays pending until the campaign is started and a worker picks it
// up.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := campaign.New(req.Name)
	if err := s.campaigns.Create(r.Context(), c); err != nil {
		writeStoreError(w, err)
		return
	}

	seed := job.New(c.ID, job.TypeFetchLeads)
	if err := s.jobs.Create(r.Context(), seed); err != nil {
		writeStoreError(w, err)
		return
	}

	s.log.Infow("Campaign created", "campaign_id", shortID(c.ID), "name", c.Name)
	writeJSON(w, http.StatusCreated, campaignResponse{
		Campaign: c,
		Jobs:     map[string]int{string(job.StatusPending): 1},
	})
}

// handleListCampaigns lists campaigns, newest first, optionally filtered
// by status.
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !campaign.IsValidStatus(statusFilter) {
		writeError(w, http.StatusBadRequest, "invalid status: "+statusFilter)
		return
	}

	campaigns, err := s.campaigns.List(r.Context(), 100)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if statusFilter != "" {
		filtered := campaigns[:0]
		for _, c := range campaigns {
			if c.Status == campaign.Status(statusFilter) {
				filtered = append(filtered, c)
			}
		}
		campaigns = filtered
	}
	if campaigns == nil {
		campaigns = []*campaign.Campaign{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

// handleGetCampaign returns a campaign with per-status job counts.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	jobs, err := s.jobs.ListByCampaign(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	counts := make(map[string]int)
	for _, j := range jobs {
		counts[string(j.Status)]++
	}

	writeJSON(w, http.StatusOK, campaignResponse{Campaign: c, Jobs: counts})
}

// handleStartCampaign moves a created campaign to running, enqueues the rest
// of the outreach pipeline, and wakes the workers. Starting a campaign twice
// returns a conflict rather than duplicating the pipeline.
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	started, err := s.campaigns.Start(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !started {
		writeError(w, http.StatusConflict, "campaign is not in created state: "+string(c.Status))
		return
	}

	pipeline := []job.Type{
		job.TypeVerifyEmail,
		job.TypeEnrichLead,
		job.TypeGenerateCopy,
		job.TypeCreateOutreach,
	}
	for _, t := range pipeline {
		j := job.New(id, t)
		if err := s.jobs.Create(r.Context(), j); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.dispatcher.Enqueue(r.Context(), j.ID, j.Type); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	s.log.Infow("Campaign started", "campaign_id", shortID(id), "pipeline_jobs", len(pipeline))

	c, err = s.campaigns.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":      c,
		"jobs_enqueued": len(pipeline),
	})
}
