package handlers

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/providers/kie"
)

const (
	supportedAspectRatio = "16:9"
	seedMin              = 10000
	seedMax              = 99999
)

type videoGenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Seed        int    `json:"seed"`
}

type videoGenerateResponse struct {
	TaskID           string `json:"task_id"`
	Status           string `json:"status"`
	CreditsRemaining int    `json:"credits_remaining"`
}

var insufficientCreditsMessages = map[string]string{
	"en": "You have no credits left. Renew your plan to keep generating videos.",
	"id": "Kredit Anda habis. Perbarui paket untuk terus membuat video.",
}

func insufficientCreditsMessage(locale string) string {
	if msg, ok := insufficientCreditsMessages[locale]; ok {
		return msg
	}
	return insufficientCreditsMessages["en"]
}

// VideosGenerate runs the submission flow. Ordering matters: the job/video
// pair and the debit are written before the provider call, and the provider
// task id replaces the placeholder only after the provider accepted. A debit
// consumed by a failed provider submission stays spent; refunds are an
// explicit operator action, not an automatic path.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	locale := a.locale(r)
	refined, err := a.Refiner.Refine(r.Context(), req.Prompt, locale)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = supportedAspectRatio
	}
	if aspect != supportedAspectRatio {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported aspect ratio")
		return
	}
	seed := req.Seed
	if seed == 0 {
		seed = seedMin + rand.Intn(seedMax-seedMin+1)
	}
	if seed < seedMin || seed > seedMax {
		a.error(w, http.StatusBadRequest, "bad_request", "seed out of range")
		return
	}

	ctx := r.Context()
	if _, err := a.Store.UpsertUser(ctx, userID, "", locale, a.Cfg.WelcomeCredits); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("videos: upsert user failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to prepare account")
		return
	}

	placeholder := "pending-" + uuid.NewString()
	if _, err := a.Store.CreateJob(ctx, userID, placeholder, refined.Text); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("videos: create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	debited, err := a.Store.DebitOne(ctx, userID, placeholder)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("videos: debit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to reserve credit")
		return
	}
	if !debited {
		if _, err := a.Store.FinalizeJob(ctx, placeholder, domain.JobStatusFailed, "insufficient_credits", nil); err != nil {
			a.Logger.Error().Err(err).Str("task_id", placeholder).Msg("videos: mark failed job")
		}
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", insufficientCreditsMessage(locale))
		return
	}

	submitted, err := a.Provider.Submit(ctx, kie.SubmitRequest{
		Prompt:      refined.Text,
		AspectRatio: aspect,
		Seed:        seed,
		CallbackURL: a.Cfg.CallbackBaseURL + "/v1/callbacks/kie",
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("videos: provider submit failed")
		if _, ferr := a.Store.FinalizeJob(ctx, placeholder, domain.JobStatusFailed, err.Error(), nil); ferr != nil {
			a.Logger.Error().Err(ferr).Str("task_id", placeholder).Msg("videos: mark failed job")
		}
		a.error(w, http.StatusBadGateway, "provider_error", "video provider rejected the request")
		return
	}

	if err := a.Store.RekeyJob(ctx, placeholder, submitted.TaskID); err != nil {
		a.Logger.Error().Err(err).
			Str("placeholder", placeholder).
			Str("task_id", submitted.TaskID).
			Msg("videos: rekey failed")
		if _, ferr := a.Store.FinalizeJob(ctx, placeholder, domain.JobStatusFailed, "internal bookkeeping failure", nil); ferr != nil {
			a.Logger.Error().Err(ferr).Str("task_id", placeholder).Msg("videos: mark failed job")
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to record provider task")
		return
	}

	a.Poller.Start(submitted.TaskID)

	balance, err := a.Store.Balance(ctx, userID)
	if err != nil {
		balance = 0
	}
	a.json(w, http.StatusAccepted, videoGenerateResponse{
		TaskID:           submitted.TaskID,
		Status:           string(domain.JobStatusProcessing),
		CreditsRemaining: balance,
	})
}

// VideoStatus serves the caller's own status poll, which is distinct from the
// internal reconciliation polling.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return
	}
	job, err := a.Store.GetJob(r.Context(), taskID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	video, err := a.Store.GetVideo(r.Context(), taskID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load video")
		return
	}
	resp := map[string]any{
		"task_id":    job.TaskID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.ErrorReason != "" {
		resp["error_reason"] = job.ErrorReason
	}
	if video != nil {
		resp["prompt"] = video.Prompt
		if video.VideoURL != "" {
			resp["video_url"] = video.VideoURL
			resp["resolution"] = video.Resolution
			resp["degraded"] = video.Degraded
		}
	}
	a.json(w, http.StatusOK, resp)
}
