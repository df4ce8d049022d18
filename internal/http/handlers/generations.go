package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
	"mediagen/internal/provider"
	"mediagen/internal/retry"
)

type generateRequest struct {
	MediaType      string         `json:"media_type"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Mode           string         `json:"mode"`
	Prompt         string         `json:"prompt"`
	OptimizePrompt bool           `json:"optimize_prompt"`
	InputURLs      []string       `json:"input_urls"`
	Params         map[string]any `json:"params"`
}

type generateResponse struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	CostCredits int    `json:"cost_credits"`
	Balance     int    `json:"balance"`
}

// Generate accepts a generation request: validate, gate on funds, submit to
// the provider, then hand the accepted job id to the orchestrator. Any
// failure before submission leaves nothing behind anywhere.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	mediaType := domain.MediaType(strings.ToLower(strings.TrimSpace(req.MediaType)))
	if mediaType == "" {
		mediaType = domain.MediaTypeImage
	}
	if !mediaType.Valid() {
		a.error(w, http.StatusBadRequest, string(orchestrator.CodeInvalidRequest), "unsupported media type")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, string(orchestrator.CodeInvalidRequest), "prompt is required")
		return
	}
	if req.Model == "" {
		if mediaType == domain.MediaTypeVideo {
			req.Model = "veo-2"
		} else {
			req.Model = "flux-schnell"
		}
	}
	if (req.Mode == orchestrator.ModeImageToImage || req.Mode == orchestrator.ModeImageToVideo) && len(req.InputURLs) == 0 {
		a.error(w, http.StatusBadRequest, string(orchestrator.CodeInvalidRequest), "image reference inputs are required for "+req.Mode)
		return
	}

	var gw provider.Gateway
	var err error
	if req.Provider != "" {
		gw, err = a.Gateways.ByName(req.Provider)
	} else {
		gw, err = a.Gateways.ByModel(req.Model)
	}
	if err != nil {
		a.error(w, http.StatusBadRequest, string(orchestrator.CodeInvalidRequest), "unsupported provider")
		return
	}

	cost := a.Pricing.Cost(mediaType, req.Model)
	if _, err := a.Credits.CheckUser(r.Context(), userID, cost); err != nil {
		a.fundsError(w, err)
		return
	}

	submittedPrompt := req.Prompt
	optimizedPrompt := ""
	promptOptimized := false
	if a.Optimizer != nil && req.OptimizePrompt {
		if optimized, changed := a.Optimizer.Optimize(req.Prompt, middleware.LocaleFromContext(r.Context())); changed {
			optimizedPrompt = optimized
			promptOptimized = true
			submittedPrompt = optimized
		}
	}

	if req.Params == nil {
		req.Params = map[string]any{}
	}
	if _, ok := req.Params["locale"]; !ok {
		if locale := middleware.LocaleFromContext(r.Context()); locale != "" {
			req.Params["locale"] = locale
		}
	}
	paramsJSON, _ := json.Marshal(req.Params)

	jobID, err := gw.Submit(r.Context(), provider.SubmitRequest{
		Model:       req.Model,
		MediaType:   mediaType,
		Prompt:      submittedPrompt,
		InputURLs:   req.InputURLs,
		Params:      req.Params,
		CallbackURL: retry.CallbackURL(a.Config.CallbackBaseURL, gw.Name()),
	})
	if err != nil {
		// Nothing was persisted or charged; the vendor rejected the job.
		a.Logger.Warn().Err(err).
			Str("provider", gw.Name()).
			Str("user_id", userID).
			Msg("handlers: provider submission failed")
		a.error(w, http.StatusBadGateway, "GENERATION_FAILED", "generation failed")
		return
	}

	result, err := a.Orchestrator.PrepareGeneration(r.Context(), orchestrator.Request{
		UserID:          userID,
		Provider:        gw.Name(),
		JobID:           jobID,
		Model:           req.Model,
		MediaType:       mediaType,
		Mode:            req.Mode,
		Prompt:          req.Prompt,
		OptimizedPrompt: optimizedPrompt,
		PromptOptimized: promptOptimized,
		InputURLs:       req.InputURLs,
		Params:          paramsJSON,
		Cost:            cost,
	})
	if err != nil {
		a.orchestratorError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, generateResponse{
		Success:     true,
		TaskID:      result.TaskID,
		Status:      string(domain.TaskStatusPending),
		CostCredits: result.Charged,
		Balance:     result.Balance,
	})
}

func (a *App) fundsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits),
		errors.Is(err, domain.ErrQuotaExhausted),
		errors.Is(err, domain.ErrSubscriptionExpired):
		a.error(w, http.StatusPaymentRequired, string(orchestrator.CodeInsufficientCredits), err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "profile not found")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "credit check failed")
	}
}

func (a *App) orchestratorError(w http.ResponseWriter, err error) {
	code := orchestrator.CodeOf(err)
	switch code {
	case orchestrator.CodeInvalidRequest:
		a.error(w, http.StatusBadRequest, string(code), err.Error())
	case orchestrator.CodeInsufficientCredits:
		a.error(w, http.StatusPaymentRequired, string(code), err.Error())
	case orchestrator.CodeTaskCreationFailed, orchestrator.CodeCreditDeductionFailed:
		a.error(w, http.StatusInternalServerError, string(code), "generation failed")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "generation failed")
	}
}
