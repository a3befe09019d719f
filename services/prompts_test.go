package services

import (
	"strings"
	"testing"

	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profile() *models.InterviewSession {
	summary := "Acme builds rockets."
	return &models.InterviewSession{
		Position:              "Backend Engineer",
		ResumeContent:         "Go, Postgres\nKubernetes",
		JobDescription:        "Own the payments API",
		CompanyName:           "Acme",
		CompanyContextSummary: &summary,
		ConfirmationText:      "A backend role focused on payments.",
		Difficulty:            models.DifficultyExpert,
		TotalQuestions:        5,
	}
}

func transcript(answer string) []models.Message {
	return []models.Message{
		{Role: models.RoleAI, Content: "How would you shard the ledger?", Sequence: 1},
		{Role: models.RoleUser, Content: answer, Sequence: 2},
	}
}

func TestQuestionStage(t *testing.T) {
	assert.Contains(t, QuestionStage(1), "foundational")
	assert.Contains(t, QuestionStage(2), "deepens")
	assert.Contains(t, QuestionStage(3), "deepens")
	assert.Contains(t, QuestionStage(4), "system design")
	assert.Contains(t, QuestionStage(7), "system design")
	assert.Contains(t, QuestionStage(8), "leadership")
}

func TestNextQuestionPrompt(t *testing.T) {
	b := NewPromptBuilder()

	first := b.NextQuestion(profile(), nil, 1)
	assert.Equal(t, PhaseNextQuestion, first.Phase)
	assert.Equal(t, DefaultSystemInstruction(PhaseNextQuestion), first.System)
	assert.Contains(t, first.Text, `difficulty Expert for the position "Backend Engineer"`)
	assert.Contains(t, first.Text, "This is question 1 of 5.")
	assert.Contains(t, first.Text, "Own the payments API")
	assert.Contains(t, first.Text, "Acme builds rockets.")
	assert.Contains(t, first.Text, "A backend role focused on payments.")
	assert.Contains(t, first.Text, "foundational")
	assert.NotContains(t, first.Text, "already asked")
	assert.Empty(t, first.History)

	weak := b.NextQuestion(profile(), transcript("By hashing."), 2)
	assert.Contains(t, weak.Text, "1. How would you shard the ledger?")
	assert.Contains(t, weak.Text, "deeper follow-up that digs into")
	require.Len(t, weak.History, 2)
	assert.Equal(t, llm.TurnAssistant, weak.History[0].Role)
	assert.Equal(t, llm.TurnUser, weak.History[1].Role)

	long := strings.Repeat("I would partition by account id and rebalance with consistent hashing ", 4)
	strong := b.NextQuestion(profile(), transcript(long), 4)
	assert.Contains(t, strong.Text, "Otherwise pivot to a system design")
}

func TestNextQuestionDefaultsDifficulty(t *testing.T) {
	s := profile()
	s.Difficulty = ""
	p := NewPromptBuilder().NextQuestion(s, nil, 1)
	assert.Contains(t, p.Text, "difficulty Senior")
}

func TestRoleConfirmationPromptOmitsUnconfirmedContext(t *testing.T) {
	p := NewPromptBuilder().RoleConfirmation(profile())
	assert.Equal(t, PhaseRoleConfirmation, p.Phase)
	assert.Contains(t, p.Text, "yes/no confirmation question")
	assert.NotContains(t, p.Text, "A backend role focused on payments.")
}

func TestContextCorrectionPrompt(t *testing.T) {
	p := NewPromptBuilder().ContextCorrection(profile(), "A frontend role.", "It is backend, payments team")
	assert.Equal(t, PhaseContextCorrection, p.Phase)
	assert.Contains(t, p.Text, `"A frontend role."`)
	assert.Contains(t, p.Text, `"It is backend, payments team"`)
}

func TestFinalReportPrompt(t *testing.T) {
	p := NewPromptBuilder().FinalReport(profile(), transcript("By hashing on account id."))
	assert.Equal(t, PhaseFinalReport, p.Phase)
	assert.Contains(t, p.Text, "Q1: How would you shard the ledger?")
	assert.Contains(t, p.Text, "A1: By hashing on account id.")
	for _, key := range []string{"skill_match", "company_fit", "communication_clarity", "star_method_application"} {
		assert.Contains(t, p.Text, key)
	}
}

func TestFallbackQuestionCycles(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		seen[FallbackQuestion(i)] = true
	}
	assert.Len(t, seen, 10)
	assert.Equal(t, FallbackQuestion(0), FallbackQuestion(10))
	assert.Equal(t, FallbackQuestion(3), FallbackQuestion(23))
	assert.Equal(t, FallbackQuestion(0), FallbackQuestion(-1))
}

func TestLocalRoleConfirmation(t *testing.T) {
	s := profile()
	s.ResumeContent = "Seven years of Go and Kubernetes, some leadership."
	text := localRoleConfirmation(s)
	assert.Contains(t, text, "Backend Engineer role at Acme.")
	assert.Contains(t, text, "go, kubernetes, leadership")
	assert.True(t, strings.HasSuffix(text, "?"))

	s.ResumeContent = "Painter and decorator"
	s.CompanyName = ""
	assert.Contains(t, localRoleConfirmation(s), "technical depth and real project experience")
}
