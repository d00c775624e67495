package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

const (
	MinDigits = 10
	MaxDigits = 15
)

var ErrNoValidNumbers = errors.New("no valid phone numbers found")

var (
	lineSplit  = regexp.MustCompile(`\r?\n`)
	tokenSplit = regexp.MustCompile(`[,;|\t]`)
	quotes     = strings.NewReplacer(`"`, "", `'`, "")
)

// NormalizePhone strips every non-digit character.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validLength(digits string) bool {
	return len(digits) >= MinDigits && len(digits) <= MaxDigits
}

// ParseText reads pasted numbers: one or more per line, separated by
// commas, semicolons, pipes or tabs. Numbers outside the allowed digit
// range are dropped.
func ParseText(text string) ([]model.Contact, error) {
	var out []model.Contact
	for _, line := range lineSplit.Split(text, -1) {
		for _, tok := range tokenSplit.Split(line, -1) {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			digits := NormalizePhone(tok)
			if !validLength(digits) {
				continue
			}
			out = append(out, newContact(len(out)+1, digits, ""))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoValidNumbers
	}
	return out, nil
}

// ParseCSV reads a phone number from the first column and an optional
// display name from the second.
func ParseCSV(r io.Reader) ([]model.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out []model.Contact
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) == 0 {
			continue
		}

		phone := cleanColumn(rec[0])
		if phone == "" {
			continue
		}
		digits := NormalizePhone(phone)
		if !validLength(digits) {
			continue
		}

		name := ""
		if len(rec) > 1 {
			name = cleanColumn(rec[1])
		}
		out = append(out, newContact(len(out)+1, digits, name))
	}
	if len(out) == 0 {
		return nil, ErrNoValidNumbers
	}
	return out, nil
}

func cleanColumn(s string) string {
	return strings.TrimSpace(quotes.Replace(s))
}

func newContact(id int, digits, name string) model.Contact {
	if name == "" {
		name = fmt.Sprintf("Contact %d", id)
	}
	return model.Contact{
		ID:          int64(id),
		PhoneNumber: digits,
		Variables: map[string]string{
			"name":   name,
			"number": digits,
		},
		Status: model.Pending,
	}
}
