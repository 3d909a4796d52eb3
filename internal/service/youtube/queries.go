package youtube

import "strings"

// BaseQueryTemplates is the query set every mode runs. {name} is replaced
// with the subject name.
var BaseQueryTemplates = []string{
	`"{name}" interview`,
	`"{name}" podcast`,
	`"{name}" conversation`,
	`"{name}" talk show`,
	`"{name}" full episode`,
	`"{name}" entrevista`,
	`"{name}" entretien`,
	`"{name}" Interview deutsch`,
	`"{name}" intervista`,
	`"{name}" speech`,
}

// ExtraQueryTemplates are appended in Pro mode.
var ExtraQueryTemplates = []string{
	`"{name}" panel`,
	`"{name}" Q&A`,
	`"{name}" keynote`,
	`"{name}" fireside chat`,
	`"{name}" AMA`,
	`"{name}" documentary`,
	`"{name}" lecture`,
	`"{name}" debate`,
	`"{name}" profile`,
	`"{name}" behind the scenes`,
}

// BuildQueries expands templates for subject in order.
func BuildQueries(subject string, templates []string) []string {
	name := strings.TrimSpace(subject)
	queries := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		queries = append(queries, strings.ReplaceAll(tmpl, "{name}", name))
	}
	return queries
}
