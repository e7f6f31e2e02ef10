package utils

import (
	"fmt"
	"strings"

	"leadflow/models"
)

// RenderMessage substitutes {placeholder} variables in a message template
// with the lead's fields. An unknown placeholder is an error so that a typo
// in a rule surfaces at scheduling time instead of sending a broken message.
//
// Supported placeholders: {lead_name}, {first_name}, {last_name}, {phone},
// {email}, {company}.
func RenderMessage(template string, lead *models.Lead) (string, error) {
	vars := map[string]string{
		"lead_name":  lead.Name,
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"phone":      lead.Phone,
		"email":      lead.Email,
		"company":    lead.Company,
	}

	var out strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open == -1 {
			out.WriteString(rest)
			break
		}
		close := strings.Index(rest[open:], "}")
		if close == -1 {
			out.WriteString(rest)
			break
		}
		close += open

		out.WriteString(rest[:open])
		name := rest[open+1 : close]
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unknown template variable %q", name)
		}
		out.WriteString(value)
		rest = rest[close+1:]
	}
	return out.String(), nil
}
