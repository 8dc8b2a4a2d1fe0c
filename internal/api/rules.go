package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Severity    domain.Severity `json:"severity,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
}

// ListRules returns the custom rules loaded in the engine, or with ?all=true
// the enabled rules stored in the repository, which may differ until the next
// reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.analyzer.Engine().GetLoadedRules()
	source := "engine"

	if r.URL.Query().Get("all") == "true" && h.repo != nil {
		stored, err := h.repo.ListRuleConfigs(r.Context(), GlobalTenantID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rules, source = stored, "database"
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"source": source,
	})
}

// GetRule retrieves a rule by ID, from the repository when available and the
// engine otherwise.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.repo != nil {
		rule, err := h.repo.GetRuleConfig(r.Context(), GlobalTenantID, ruleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rule)
		return
	}

	for _, rule := range h.analyzer.Engine().GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, r, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, r, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates a CEL rule, saves it for all tenants and loads it
// into the engine when enabled. Saving an existing ID replaces the rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1",
		Expression:  req.Expression,
		Severity:    req.Severity,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if ruleConfig.Severity == "" {
		ruleConfig.Severity = domain.SeverityMedium
	}
	if err := ruleConfig.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	engine := h.analyzer.Engine()
	if err := engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, r, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
		if err := h.reload(r); err != nil {
			writeError(w, r, err)
			return
		}
	} else if ruleConfig.Enabled {
		if err := engine.LoadRule(ruleConfig); err != nil {
			writeError(w, r, err)
			return
		}
	}

	slog.Info("rule saved", "id", ruleConfig.ID, "name", ruleConfig.Name, "enabled", ruleConfig.Enabled)
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"rule":   ruleConfig,
		"loaded": engine.RulesCount(),
	})
}

// DeleteRule disables a rule and reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteRuleConfig(r.Context(), GlobalTenantID, ruleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		writeError(w, r, err)
		return
	}
	if err := h.reload(r); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("rule disabled", "id", ruleID)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"message": "rule disabled",
		"loaded":  h.analyzer.Engine().RulesCount(),
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.reload(r); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.analyzer.Engine().RulesCount(),
	})
}

func (h *Handler) reload(r *http.Request) error {
	stored, err := h.repo.ListRuleConfigs(r.Context(), GlobalTenantID)
	if err != nil {
		return err
	}
	if err := h.analyzer.Engine().ReloadRules(stored); err != nil {
		return err
	}
	slog.Info("rules reloaded from database", "count", h.analyzer.Engine().RulesCount())
	return nil
}
