package model

import "strings"

type Message struct {
	TemplateID     string   `json:"templateId,omitempty"`
	Content        string   `json:"content"`
	Variables      []string `json:"variables"`
	CharacterCount int      `json:"characterCount"`
}

// Empty reports whether the message has neither content nor a template.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Content) == "" && strings.TrimSpace(m.TemplateID) == ""
}

func (m Message) Clone() Message {
	out := m
	if m.Variables != nil {
		out.Variables = append([]string(nil), m.Variables...)
	}
	return out
}

// Credentials is the messaging provider bundle. Valid is set by the
// validator and trusted as-is by the sending code.
type Credentials struct {
	BearerToken       string `json:"bearerToken"`
	PhoneID           string `json:"phoneId"`
	BusinessAccountID string `json:"businessAccountId"`
	Valid             bool   `json:"valid"`
}

// Masked hides all but the last four characters of the bearer token.
func (c Credentials) Masked() Credentials {
	out := c
	if n := len(c.BearerToken); n > 4 {
		out.BearerToken = strings.Repeat("*", n-4) + c.BearerToken[n-4:]
	}
	return out
}
