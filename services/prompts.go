package services

import (
	"fmt"
	"strings"

	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/models"
)

// Prompt phase keys. They double as prompt_templates keys.
const (
	PhaseCompanySummary    = "company_summary"
	PhaseRoleConfirmation  = "role_confirmation"
	PhaseContextCorrection = "context_correction"
	PhaseNextQuestion      = "next_question"
	PhaseFinalReport       = "final_report"
)

// Phases lists every prompt phase in pipeline order
var Phases = []string{
	PhaseCompanySummary,
	PhaseRoleConfirmation,
	PhaseContextCorrection,
	PhaseNextQuestion,
	PhaseFinalReport,
}

var defaultSystemInstructions = map[string]string{
	PhaseCompanySummary: "You are an efficient interview context coordinator. " +
		"You distill web search results about a company into the facts a downstream AI interviewer needs. " +
		"Your output is always strict JSON.",
	PhaseRoleConfirmation: "You are a senior tech recruiting lead with keen insight. " +
		"You do not interview the candidate. You analyze the interview inputs, find ambiguities or gaps, " +
		"and state your inference about the interview angle in 2-3 sentences that end with a yes/no confirmation question.",
	PhaseContextCorrection: "You are a helpful and precise interview context coordinator. " +
		"You revise an interview setup based on candidate feedback and restate it in 2-3 sentences " +
		"that end with a direct confirmation question.",
	PhaseNextQuestion: "You are a rigorous, professional technical interviewer. " +
		"You ask exactly one question at a time. You output only the question text, with no greeting, preamble, numbering or commentary.",
	PhaseFinalReport: "You are a top-tier career coach and interview expert. " +
		"You give an objective, data-driven and constructive evaluation of a finished mock interview " +
		"and you answer only with JSON that follows the requested schema exactly.",
}

// DefaultSystemInstruction returns the built-in system text for a phase
func DefaultSystemInstruction(phase string) string {
	return defaultSystemInstructions[phase]
}

var difficultyFraming = map[models.Difficulty]string{
	models.DifficultyJunior: "Keep questions approachable and focused on fundamentals; reward clear reasoning over breadth.",
	models.DifficultyMid:    "Expect solid hands-on experience; press for ownership of features and practical trade-offs.",
	models.DifficultySenior: "Expect depth: architecture decisions, trade-offs, failure modes and mentoring others.",
	models.DifficultyExpert: "Hold a very high bar: system-wide design, ambiguity, organisational influence and novel problem solving.",
}

// Prompt is the provider-neutral request for one phase
type Prompt struct {
	Phase   string
	System  string
	Text    string
	History []llm.Turn
}

// Request converts the prompt into a gateway request for model
func (p Prompt) Request(model string) llm.Request {
	return llm.Request{
		Model:   model,
		System:  p.System,
		Prompt:  p.Text,
		History: p.History,
	}
}

// PromptBuilder deterministically maps session state to prompts. It holds no state.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// CompanySummary asks for the {company_name, company_summary, key_focus_areas} JSON shape
func (b *PromptBuilder) CompanySummary(company string, snippets []string) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze the following search results about %q.\n\nSearch results:\n", company)
	for i, s := range snippets {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	sb.WriteString("\nRespond with JSON in exactly this shape:\n")
	fmt.Fprintf(&sb, `{"company_name": %q, "company_summary": "<2-3 sentences on core business, market position and main products>", "key_focus_areas": ["<keyword>", "..."]}`, company)

	return Prompt{
		Phase:  PhaseCompanySummary,
		System: DefaultSystemInstruction(PhaseCompanySummary),
		Text:   sb.String(),
	}
}

// RoleConfirmation builds the setup narrative prompt used when no job description was given
func (b *PromptBuilder) RoleConfirmation(s *models.InterviewSession) Prompt {
	var sb strings.Builder
	sb.WriteString("Analyze the following interview input data:\n\n")
	writeProfile(&sb, s, false)
	sb.WriteString("\nYour task:\n")
	sb.WriteString("- Check whether the target position has more than one plausible interpretation, and whether the company context is missing or thin.\n")
	sb.WriteString("- Infer the most likely interview angle by combining the resume with the position and company context.\n")
	sb.WriteString("- Write a 2-3 sentence context confirmation that states your inference and ends with a yes/no confirmation question.")

	return Prompt{
		Phase:  PhaseRoleConfirmation,
		System: DefaultSystemInstruction(PhaseRoleConfirmation),
		Text:   sb.String(),
	}
}

// ContextCorrection revises a previous narrative with the candidate's correction
func (b *PromptBuilder) ContextCorrection(s *models.InterviewSession, previous, correction string) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are setting up a mock interview for a %q position.\n\n", s.Position)
	writeProfile(&sb, s, true)
	fmt.Fprintf(&sb, "\nThis was your initial understanding of the interview context:\n%q\n\n", previous)
	fmt.Fprintf(&sb, "The candidate provided the following correction:\n%q\n\n", correction)
	sb.WriteString("Your task: write a revised 2-3 sentence confirmation that incorporates the correction and ends with a direct confirmation question.")

	return Prompt{
		Phase:  PhaseContextCorrection,
		System: DefaultSystemInstruction(PhaseContextCorrection),
		Text:   sb.String(),
	}
}

// QuestionStage returns the topic band for the 1-based question number
func QuestionStage(number int) string {
	switch {
	case number <= 1:
		return "a foundational question about the candidate's background and core skills"
	case number <= 3:
		return "a question that deepens the technical or project discussion"
	case number <= 7:
		return "a system design or problem-solving question"
	default:
		return "an advanced or leadership question"
	}
}

// NextQuestion builds the prompt for the 1-based question number given the transcript so far
func (b *PromptBuilder) NextQuestion(s *models.InterviewSession, history []models.Message, number int) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are acting as an interviewer of difficulty %s for the position %q.\n", difficultyOf(s), s.Position)
	if framing := difficultyFraming[difficultyOf(s)]; framing != "" {
		sb.WriteString(framing)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "This is question %d of %d.\n\n", number, s.TotalQuestions)
	writeProfile(&sb, s, true)

	asked := askedQuestions(history)
	if len(asked) > 0 {
		sb.WriteString("\nQuestions already asked (never repeat these topics):\n")
		for i, q := range asked {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
		}
	}

	sb.WriteString("\nYour task:\n")
	last := lastAnswer(history)
	switch {
	case last == "":
		fmt.Fprintf(&sb, "- Ask %s.\n", QuestionStage(number))
	case weakAnswer(last):
		sb.WriteString("- The candidate's last answer was brief or lacked concrete detail. Ask one deeper follow-up that digs into specifics, trade-offs or a clear Situation-Task-Action-Result structure.\n")
	default:
		fmt.Fprintf(&sb, "- If the last answer was vague, evasive or shallow, ask one deeper follow-up. Otherwise pivot to %s.\n", QuestionStage(number))
	}
	sb.WriteString("- Frame the question using the job description and company context when they are available.\n")
	sb.WriteString("- Output only the question text, with no preamble.")

	return Prompt{
		Phase:   PhaseNextQuestion,
		System:  DefaultSystemInstruction(PhaseNextQuestion),
		Text:    sb.String(),
		History: toTurns(history),
	}
}

// FinalReport builds the structured evaluation prompt over the full transcript
func (b *PromptBuilder) FinalReport(s *models.InterviewSession, history []models.Message) Prompt {
	var sb strings.Builder
	sb.WriteString("Interview profile:\n")
	fmt.Fprintf(&sb, "- Difficulty: %s\n", difficultyOf(s))
	writeProfile(&sb, s, true)

	sb.WriteString("\nFull interview transcript:\n")
	sb.WriteString(formatTranscript(history))

	sb.WriteString("\nScoring guide:\n")
	sb.WriteString("- skill_match: how well the demonstrated skills match the job description and resume\n")
	sb.WriteString("- company_fit: how well the answers relate to the company context\n")
	sb.WriteString("- communication_clarity: logic, clarity and professionalism of the answers\n")
	sb.WriteString("- star_method_application: use of the STAR structure in behavioural answers only\n")

	sb.WriteString("\nRespond with JSON only, in exactly this shape:\n")
	sb.WriteString(`{
  "overall_score": <integer 0-100>,
  "overall_summary": "<2-3 sentence evaluation>",
  "scoring_matrix": {
    "skill_match": <0-10>,
    "company_fit": <0-10>,
    "communication_clarity": <0-10>,
    "star_method_application": <0-10>
  },
  "per_question_analysis": [
    {"question": "...", "answer": "...", "feedback_strengths": "...", "feedback_improvements": "...", "suggested_answer": "..."}
  ],
  "final_recommendations": ["...", "..."]
}`)

	return Prompt{
		Phase:  PhaseFinalReport,
		System: DefaultSystemInstruction(PhaseFinalReport),
		Text:   sb.String(),
	}
}

func writeProfile(sb *strings.Builder, s *models.InterviewSession, confirmed bool) {
	fmt.Fprintf(sb, "- Target position: %s\n", s.Position)
	fmt.Fprintf(sb, "- Candidate resume:\n%s\n", indent(s.ResumeContent))
	if s.JobDescription != "" {
		fmt.Fprintf(sb, "- Job description:\n%s\n", indent(s.JobDescription))
	}
	if s.CompanyName != "" {
		fmt.Fprintf(sb, "- Company: %s\n", s.CompanyName)
	}
	if s.CompanyContextSummary != nil && *s.CompanyContextSummary != "" {
		fmt.Fprintf(sb, "- Company context:\n%s\n", indent(*s.CompanyContextSummary))
	}
	if s.AdditionalInfo != "" {
		fmt.Fprintf(sb, "- Additional information from the candidate:\n%s\n", indent(s.AdditionalInfo))
	}
	if confirmed && s.ConfirmationText != "" {
		fmt.Fprintf(sb, "- Confirmed interview context:\n%s\n", indent(s.ConfirmationText))
	}
}

func indent(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func difficultyOf(s *models.InterviewSession) models.Difficulty {
	if s.Difficulty == "" {
		return models.DefaultDifficulty
	}
	return s.Difficulty
}

func toTurns(history []models.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		role := llm.TurnUser
		if m.Role == models.RoleAI {
			role = llm.TurnAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}
	return turns
}

func askedQuestions(history []models.Message) []string {
	var asked []string
	for _, m := range history {
		if m.Role == models.RoleAI {
			asked = append(asked, m.Content)
		}
	}
	return asked
}

func lastAnswer(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// weakAnswer flags answers too short to evaluate
func weakAnswer(answer string) bool {
	return len(strings.Fields(answer)) < 25
}

// formatTranscript renders Q/A pairs in sequence order
func formatTranscript(history []models.Message) string {
	var sb strings.Builder
	q := 0
	for _, m := range history {
		if m.Role == models.RoleAI {
			q++
			fmt.Fprintf(&sb, "Q%d: %s\n", q, m.Content)
		} else {
			fmt.Fprintf(&sb, "A%d: %s\n\n", q, m.Content)
		}
	}
	return sb.String()
}
