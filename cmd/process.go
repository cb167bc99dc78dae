package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/intent"
)

var (
	processIssueFile   string
	processEvent       string
	processCommentFile string
	processKeepFolder  bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Apply one issue submission",
	Long: `Parse an issue and apply the request it makes.

The issue is read from --issue-file (markdown with front matter), from
--event (a GitHub issues event payload), or from the ISSUE_TITLE,
ISSUE_BODY and ISSUE_NUMBER environment variables.

The result is printed to stdout and the exit code names the failure kind:
2 malformed request, 3 invalid URL, 4 unknown company, 5 duplicate company,
6 template failure, 7 corrupt registry, 8 registry conflict.

Examples:
  ISSUE_TITLE="Create company: Acme Co" ISSUE_BODY="**Website:** acme.com" demosite process
  demosite process --issue-file request.md --comment-file comment.md
  demosite process --event "$GITHUB_EVENT_PATH" --commit`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVar(&processIssueFile, "issue-file", "", "markdown issue with title/number front matter")
	processCmd.Flags().StringVar(&processEvent, "event", "", "GitHub issues event payload (JSON)")
	processCmd.Flags().StringVar(&processCommentFile, "comment-file", "", "write the markdown issue comment here")
	processCmd.Flags().BoolVar(&processKeepFolder, "keep-folder", false, "on delete, keep the folder and screenshot")
	processCmd.MarkFlagsMutuallyExclusive("issue-file", "event")
}

func readIssue() (intent.Issue, error) {
	switch {
	case processIssueFile != "":
		return intent.ReadIssueFile(processIssueFile)
	case processEvent != "":
		return intent.ReadEvent(processEvent)
	}
	issue := intent.FromEnv(os.Getenv)
	if issue.Title == "" && issue.Body == "" {
		return issue, fmt.Errorf("%w: no issue given (set %s/%s or use --issue-file or --event)",
			failure.ErrMalformedRequest, intent.EnvIssueTitle, intent.EnvIssueBody)
	}
	return issue, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	issue, err := readIssue()
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	p, cleanup := a.newPipeline(processKeepFolder)
	defer cleanup()

	res := p.Run(cmd.Context(), issue)
	return a.finish(res, processCommentFile)
}
