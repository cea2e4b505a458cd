package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sdlc-wizard/internal/app"
	"sdlc-wizard/internal/domain"

	"github.com/spf13/cobra"
)

var gateArtifacts = map[domain.Stage]domain.ArtifactKind{
	domain.StageStoriesApproved: domain.ArtifactStories,
	domain.StageCodeApproved:    domain.ArtifactCode,
}

func newRunCmd(load loadFunc) *cobra.Command {
	var (
		file, text, runID string
		yes               bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one requirements document through the wizard in this terminal",
		Example: `  sdlc-wizard run --file requirements.docx
  sdlc-wizard run --text "buy milk" --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			upload, err := uploadFromFlags(file, text)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			// a local run is self-contained: approvals come from stdin
			cfg.Redis.Enabled = false
			cfg.Storage.Runs = "memory"
			cfg.Storage.Artifacts = "memory"

			ctx, stop := withSignals(cmd.Context())
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Machine.Start(ctx, runID, upload)
			if err != nil {
				return err
			}
			return drive(ctx, a, run.RunID, cmd.InOrStdin(), cmd.OutOrStdout(), yes)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "requirements document (txt, md, pdf, docx)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "requirements as plain text")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every gate without asking")
	cmd.MarkFlagsMutuallyExclusive("file", "text")
	return cmd
}

func uploadFromFlags(file, text string) (domain.Upload, error) {
	switch {
	case file != "":
		content, err := os.ReadFile(file)
		if err != nil {
			return domain.Upload{}, err
		}
		return domain.FileUpload(file, content), nil
	case strings.TrimSpace(text) != "":
		return domain.TextUpload(text), nil
	default:
		return domain.Upload{}, errors.New("one of --file or --text is required")
	}
}

// drive advances the run, asking on out/in at every gate and after every
// failure, until it completes or the user quits.
func drive(ctx context.Context, a *app.App, runID string, in io.Reader, out io.Writer, autoApprove bool) error {
	reader := bufio.NewReader(in)
	run, err := a.Machine.GetStatus(ctx, runID)
	if err != nil {
		return err
	}

	for {
		fmt.Fprintln(out, renderStatus(run))

		if run.IsFinished() {
			for _, line := range a.EventLog.Lines(runID) {
				fmt.Fprintln(out, pendingStyle.Render(line))
			}
			fmt.Fprintln(out, doneStyle.Render("Wizard complete."))
			return nil
		}

		switch run.Status {
		case domain.StatusFailed:
			if autoApprove {
				return fmt.Errorf("run %s failed: %s", runID, run.Error)
			}
			run, err = recoverRun(ctx, a, run, reader, out)

		case domain.StatusAwaitingApproval:
			gate, _ := run.PendingGate()
			if kind, ok := gateArtifacts[gate]; ok {
				content, err := a.Service.GetArtifact(ctx, runID, kind)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderArtifact(kind, content))
			}

			approved := autoApprove
			if !approved {
				answer, err := prompt(reader, out, fmt.Sprintf("Approve %s? [y/n] ", gate))
				if err != nil {
					return err
				}
				approved = strings.HasPrefix(strings.ToLower(answer), "y")
			}
			if approved {
				run, err = a.Machine.Approve(ctx, runID, gate)
			} else {
				reason, perr := prompt(reader, out, "Reason: ")
				if perr != nil {
					return perr
				}
				run, err = a.Machine.Reject(ctx, runID, gate, reason)
			}

		default:
			run, err = a.Machine.Advance(ctx, runID)
		}
		if err != nil {
			return err
		}
	}
}

// recoverRun asks how to continue a failed run. Retrying advances again, which
// redoes a rejected stage; a new document is accepted while the run has not
// got past its stories.
func recoverRun(ctx context.Context, a *app.App, run *domain.WorkflowRun, r *bufio.Reader, out io.Writer) (*domain.WorkflowRun, error) {
	canResubmit := run.Stage == domain.StageUploaded ||
		(run.Rejection != nil && run.Rejection.Stage == domain.StageStoriesApproved)

	question := "Retry? [y/n] "
	if canResubmit {
		question = "Retry, resubmit or quit? [r/s/q] "
	}
	answer, err := prompt(r, out, question)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes", "r", "retry":
		return a.Machine.Advance(ctx, run.RunID)
	case "s", "resubmit":
		if !canResubmit {
			break
		}
		doc, err := prompt(r, out, "New requirements (file path or text): ")
		if err != nil {
			return nil, err
		}
		upload, err := uploadFromAnswer(doc)
		if err != nil {
			return nil, err
		}
		run, err = a.Machine.Resubmit(ctx, run.RunID, upload)
		if err != nil {
			return nil, err
		}
		// a pending rejection keeps the run failed until the stories are redone
		if _, ok := run.Artifacts[domain.ArtifactRequirementText]; ok && run.Status == domain.StatusFailed {
			return a.Machine.Advance(ctx, run.RunID)
		}
		return run, nil
	}
	return nil, fmt.Errorf("run %s failed: %s", run.RunID, run.Error)
}

// uploadFromAnswer reads answer as a file when one exists at that path.
func uploadFromAnswer(answer string) (domain.Upload, error) {
	if info, err := os.Stat(answer); err == nil && info.Mode().IsRegular() {
		return uploadFromFlags(answer, "")
	}
	return uploadFromFlags("", answer)
}

func prompt(r *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("input closed before a decision was made")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
