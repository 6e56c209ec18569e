package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
)

const chatHelp = `commands:
  /reset          start over
  /reject <id>    never recommend product <id> again
  /session        show the session state
  /quit           exit`

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		RunE:  runChat,
	}

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	client, err := recommend.NewRecommendClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "What are you looking for? (/help for commands)")
	return chatLoop(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop reads one line per turn until EOF or /quit.
func chatLoop(ctx context.Context, client *recommend.RecommendClient, in io.Reader, out io.Writer) error {
	var sessionID string
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			switch cmd {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Fprintln(out, chatHelp)
			case "/reset":
				if sessionID != "" {
					if _, err := client.ResetSession(ctx, sessionID); err != nil {
						fmt.Fprintf(out, "error: %v\n", err)
						continue
					}
				}
				fmt.Fprintln(out, "Starting over.")
			case "/reject":
				if sessionID == "" {
					fmt.Fprintln(out, "Nothing to reject yet.")
					continue
				}
				if _, err := client.RejectProduct(ctx, sessionID, strings.TrimSpace(arg)); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "Got it, %s will not come up again.\n", strings.TrimSpace(arg))
			case "/session":
				if sessionID == "" {
					fmt.Fprintln(out, "No previous conversation.")
					continue
				}
				info, err := client.GetSession(ctx, sessionID)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "session %s: %d turns, filters %s, rejected %v\n",
					info.ID, len(info.History), info.Filters, info.RejectedIDs)
			default:
				fmt.Fprintf(out, "unknown command %s\n%s\n", cmd, chatHelp)
			}
			continue
		}

		res, err := client.Recommend(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = res.SessionID
		printResult(out, res)
	}
}

func printResult(out io.Writer, res *recommend.RecommendResult) {
	fmt.Fprintln(out, res.Summary)
	for i, rec := range res.Recommendations {
		fmt.Fprintf(out, "  %d. %s [%s]\n     %s\n", i+1, rec.ProductName, rec.ProductID, rec.Reasoning)
	}
	for _, q := range res.FollowUpQuestions {
		fmt.Fprintf(out, "  ? %s\n", q)
	}
}
