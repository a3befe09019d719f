package services

import (
	"fmt"
	"strings"

	"github.com/krshsl/mockmate/models"
)

// OpeningQuestion is asked when the first question cannot be generated
const OpeningQuestion = "To get us started, could you walk me through your background and the experience that best prepares you for this role?"

var fallbackQuestions = [10]string{
	"Tell me about a technical project you are most proud of. What was your role and what made it challenging?",
	"Describe a difficult bug or production incident you handled. How did you find the root cause?",
	"How do you decide between building something yourself and adopting an existing library or service?",
	"Walk me through how you would design a system that has to handle a sudden tenfold increase in traffic.",
	"Tell me about a time you disagreed with a teammate on a technical decision. How was it resolved?",
	"How do you make sure the code you ship is reliable and maintainable over time?",
	"Describe a situation where requirements changed late in a project. What did you do?",
	"What trade-offs would you consider when choosing a data store for a new feature?",
	"Tell me about a time you mentored someone or helped raise the bar of your team.",
	"Looking back at your recent work, what would you do differently and why?",
}

// FallbackQuestion picks a canned question for the answered-question index, cycling past the end
func FallbackQuestion(index int) string {
	if index < 0 {
		index = 0
	}
	return fallbackQuestions[index%len(fallbackQuestions)]
}

// localRoleConfirmation is the deterministic setup narrative used when no provider can produce one
func localRoleConfirmation(s *models.InterviewSession) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on the details you provided, I will run this interview for a %s role", s.Position)
	if s.CompanyName != "" {
		fmt.Fprintf(&sb, " at %s", s.CompanyName)
	}
	sb.WriteString(".")
	if skills := resumeHighlights(s.ResumeContent); len(skills) > 0 {
		fmt.Fprintf(&sb, " Your resume highlights %s, so I expect to focus on hands-on depth in those areas.", strings.Join(skills, ", "))
	} else {
		sb.WriteString(" I expect to focus on technical depth and real project experience.")
	}
	sb.WriteString(" Is this the interview context you are preparing for?")
	return sb.String()
}

var highlightTerms = []string{
	"go", "golang", "python", "java", "typescript", "react", "kubernetes", "aws", "gcp",
	"postgres", "sql", "machine learning", "distributed systems", "microservices", "leadership",
}

// resumeHighlights returns up to three known skill terms found in the resume
func resumeHighlights(resume string) []string {
	lower := " " + strings.ToLower(resume) + " "
	var found []string
	for _, term := range highlightTerms {
		if len(found) == 3 {
			break
		}
		if containsWord(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

func containsWord(text, term string) bool {
	for _, sep := range []string{" ", ",", ".", "\n", "/", "("} {
		for _, end := range []string{" ", ",", ".", "\n", "/", ")"} {
			if strings.Contains(text, sep+term+end) {
				return true
			}
		}
	}
	return false
}
