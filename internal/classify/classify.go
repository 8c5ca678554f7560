package classify

import (
	"strings"

	"github.com/dukerupert/kennel/internal/model"
)

// Result is the category and priority assigned to a notification.
type Result struct {
	Category model.Category `json:"category"`
	Priority model.Priority `json:"priority"`
}

// Classifier assigns a category and priority from notification text.
type Classifier interface {
	Classify(title, message string) Result
}

type keywordGroup[T any] struct {
	value    T
	keywords []string
}

// Groups are tested in order and the first hit wins. Matching is on literal
// lower-cased substrings; accents are not normalized.
var categoryGroups = []keywordGroup[model.Category]{
	{model.CategoryMedical, []string{"vacuna", "medicina", "veterinario"}},
	{model.CategoryTransport, []string{"transporte", "recog", "vehículo"}},
	{model.CategoryBehavior, []string{"ansiedad", "comportamiento", "obediencia"}},
	{model.CategoryRoutine, []string{"paseo", "rutina", "horario"}},
	{model.CategoryTraining, []string{"tip", "consejo", "entrenamiento"}},
}

var priorityGroups = []keywordGroup[model.Priority]{
	{model.PriorityUrgent, []string{"urgente", "crítico", "vencida"}},
	{model.PriorityHigh, []string{"importante", "alerta", "vence"}},
	{model.PriorityMedium, []string{"recordatorio", "próxima"}},
}

// Keyword is the substring classifier used across the app.
type Keyword struct{}

// New returns the default classifier.
func New() Keyword {
	return Keyword{}
}

func (Keyword) Classify(title, message string) Result {
	text := strings.ToLower(title + " " + message)
	return Result{
		Category: firstMatch(text, categoryGroups, model.CategoryGeneral),
		Priority: firstMatch(text, priorityGroups, model.PriorityLow),
	}
}

func firstMatch[T any](text string, groups []keywordGroup[T], fallback T) T {
	for _, g := range groups {
		for _, kw := range g.keywords {
			if strings.Contains(text, kw) {
				return g.value
			}
		}
	}
	return fallback
}
