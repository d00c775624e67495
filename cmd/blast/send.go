package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/whatsapp-blast/internal/campaign"
	"github.com/LeventeLantos/whatsapp-blast/internal/config"
	"github.com/LeventeLantos/whatsapp-blast/internal/model"
	"github.com/LeventeLantos/whatsapp-blast/internal/templates"
)

var errInterrupted = errors.New("interrupted before all contacts were processed")

type sendOptions struct {
	contactsFile string
	templateID   string
	message      string
	outFile      string
}

func newSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to every contact in a file and export the results",
		Example: `  blast send --contacts numbers.txt --template welcome_001
  blast send --contacts contacts.csv --message "Hi {{name}}" --out results.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.contactsFile, "contacts", "", "contacts file (.csv, or one number per line)")
	cmd.Flags().StringVar(&opts.templateID, "template", "", "template id from the catalog")
	cmd.Flags().StringVar(&opts.message, "message", "", "free-form message text")
	cmd.Flags().StringVar(&opts.outFile, "out", "", "results CSV path (default: stamped name in the working directory)")
	_ = cmd.MarkFlagRequired("contacts")
	cmd.MarkFlagsMutuallyExclusive("template", "message")
	cmd.MarkFlagsOneRequired("template", "message")

	return cmd
}

func runSend(ctx context.Context, opts sendOptions, out io.Writer) error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}
	sender, err := newSender(cfg)
	if err != nil {
		return fmt.Errorf("build sender: %w", err)
	}
	catalog, err := templates.Load(cfg.Templates.File)
	if err != nil {
		return err
	}

	c, err := campaign.New(ctx, campaign.Deps{
		Sender:     sender,
		Catalog:    catalog,
		ContentMax: cfg.Send.ContentMax,
	})
	if err != nil {
		return err
	}

	if err := c.SetCredentials(model.Credentials{
		BearerToken:       os.Getenv("WA_BEARER_TOKEN"),
		PhoneID:           os.Getenv("WA_PHONE_ID"),
		BusinessAccountID: os.Getenv("WA_BUSINESS_ACCOUNT_ID"),
	}); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	if err := importFile(c, opts.contactsFile); err != nil {
		return err
	}

	msg, err := c.ComposeMessage(opts.templateID, opts.message)
	if err != nil {
		return err
	}

	events, unsubscribe := c.Subscribe(4*c.Len() + 16)
	defer unsubscribe()

	job, err := c.SendAll(msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "job %s: %d contacts queued\n", job.ID, len(job.Contacts))

	runErr := follow(events, out)

	counts := c.Counts()
	fmt.Fprintf(out, "sent=%d failed=%d pending=%d\n", counts[model.Sent], counts[model.Failed], counts[model.Pending])

	if err := writeExport(c, opts.outFile); err != nil {
		return err
	}
	return runErr
}

// follow prints one line per contact transition until the job completes or
// pauses.
func follow(events <-chan model.Event, out io.Writer) error {
	for ev := range events {
		switch ev.Type {
		case model.EventContactUpdated:
			line := fmt.Sprintf("%-8s %s", ev.Contact.Status, ev.Contact.PhoneNumber)
			if ev.Contact.Error != "" {
				line += "  " + ev.Contact.Error
			}
			fmt.Fprintln(out, line)
		case model.EventJobStatus:
			if ev.Status == model.JobPaused {
				return errInterrupted
			}
		case model.EventJobCompleted:
			if ev.Error != "" {
				return errors.New(ev.Error)
			}
			return nil
		}
	}
	return errors.New("event stream closed early")
}

func importFile(c *campaign.Campaign, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read contacts: %w", err)
	}

	var n int
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		n, err = c.ImportCSV(bytes.NewReader(b))
	} else {
		n, err = c.ImportText(string(b))
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if n == 0 {
		return campaign.ErrNoContacts
	}
	return nil
}

func writeExport(c *campaign.Campaign, path string) error {
	var buf bytes.Buffer
	name, err := c.Export(&buf)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
