package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/models"
	"github.com/krshsl/mockmate/repository"
)

const templateTTL = 10 * time.Minute

// PromptTemplates resolves the active system instruction per phase, caching lookups
type PromptTemplates struct {
	repo  *repository.GORMRepository
	cache cache.Cache
}

func NewPromptTemplates(repo *repository.GORMRepository, c cache.Cache) *PromptTemplates {
	if c == nil {
		c = cache.NewFallback(nil)
	}
	return &PromptTemplates{repo: repo, cache: c}
}

func templateKey(phase string) string {
	return cache.TemplatePrefix + phase
}

// SystemInstruction returns the active template text for phase, or the built-in default
func (p *PromptTemplates) SystemInstruction(ctx context.Context, phase string) string {
	var instruction string
	if found, _ := p.cache.Get(ctx, templateKey(phase), &instruction); found {
		if instruction != "" {
			return instruction
		}
		return DefaultSystemInstruction(phase)
	}

	template, err := p.repo.GetActivePromptTemplate(ctx, phase)
	if err != nil {
		slog.Warn("Prompt template lookup failed, using built-in instruction", "phase", phase, "error", err)
		return DefaultSystemInstruction(phase)
	}
	if template != nil {
		instruction = strings.TrimSpace(template.SystemInstruction)
	}
	// An empty entry caches "no override" as well
	p.cache.Set(ctx, templateKey(phase), instruction, templateTTL)

	if instruction == "" {
		return DefaultSystemInstruction(phase)
	}
	return instruction
}

// Apply overrides the prompt's system text with the active template
func (p *PromptTemplates) Apply(ctx context.Context, prompt Prompt) Prompt {
	if p == nil {
		return prompt
	}
	prompt.System = p.SystemInstruction(ctx, prompt.Phase)
	return prompt
}

func (p *PromptTemplates) List(ctx context.Context) ([]models.PromptTemplate, error) {
	templates, err := p.repo.ListPromptTemplates(ctx)
	if err != nil {
		return nil, errInternal(fmt.Errorf("failed to list prompt templates: %w", err))
	}
	return templates, nil
}

// UpdatePromptTemplateRequest is the admin edit payload
type UpdatePromptTemplateRequest struct {
	Name              *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description       *string `json:"description"`
	SystemInstruction *string `json:"system_instruction" validate:"omitempty,min=10"`
	IsActive          *bool   `json:"is_active"`
}

// Update edits a template, bumps its version and drops the cached lookup
func (p *PromptTemplates) Update(ctx context.Context, id string, req UpdatePromptTemplateRequest) (*models.PromptTemplate, error) {
	if err := validate.Struct(req); err != nil {
		return nil, newAppError(CodeInvalidRequest, http.StatusBadRequest, validationMessage(err))
	}

	template, err := p.repo.GetPromptTemplate(ctx, id)
	if err != nil {
		return nil, errInternal(err)
	}
	if template == nil {
		return nil, newAppError(CodeInvalidRequest, http.StatusNotFound, "prompt template not found")
	}

	if req.Name != nil {
		template.Name = *req.Name
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.SystemInstruction != nil {
		template.SystemInstruction = *req.SystemInstruction
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}
	template.Version++

	if err := p.repo.UpdatePromptTemplate(ctx, template); err != nil {
		return nil, errInternal(err)
	}
	p.cache.Delete(ctx, templateKey(template.Key))
	return template, nil
}

// Seed creates the built-in template for every phase that has none yet
func (p *PromptTemplates) Seed(ctx context.Context) error {
	names := map[string]string{
		PhaseCompanySummary:    "Company research summary",
		PhaseRoleConfirmation:  "Role confirmation narrative",
		PhaseContextCorrection: "Context correction narrative",
		PhaseNextQuestion:      "Next interview question",
		PhaseFinalReport:       "Final evaluation report",
	}
	for _, phase := range Phases {
		created, err := p.repo.EnsurePromptTemplate(ctx, &models.PromptTemplate{
			Key:               phase,
			Name:              names[phase],
			SystemInstruction: DefaultSystemInstruction(phase),
			Version:           1,
			IsActive:          true,
		})
		if err != nil {
			return fmt.Errorf("failed to seed prompt template %s: %w", phase, err)
		}
		if created {
			slog.Info("Seeded prompt template", "key", phase)
		}
	}
	return nil
}
