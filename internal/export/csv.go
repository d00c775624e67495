// Package export renders contact delivery results as a CSV download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

const (
	TimestampLayout = "2006-01-02 15:04:05"
	filenameLayout  = "2006-01-02-1504"
)

var header = []string{"Phone Number", "Status", "Timestamp", "Error"}

// WriteCSV writes the header and one row per contact, in the given order.
// Timestamps are rendered in the location they carry.
func WriteCSV(w io.Writer, contacts []model.Contact) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range contacts {
		ts := ""
		if c.Timestamp != nil {
			ts = c.Timestamp.Format(TimestampLayout)
		}
		if err := cw.Write([]string{c.PhoneNumber, string(c.Status), ts, c.Error}); err != nil {
			return fmt.Errorf("write row for contact %d: %w", c.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func Filename(now time.Time) string {
	return "whatsapp-blast-results-" + now.Format(filenameLayout) + ".csv"
}
