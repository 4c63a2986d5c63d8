package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	httpapi "github.com/nextlevelbuilder/querydesk/internal/http"
	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

var (
	chatTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4"))
	chatMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7A8A94"))
	chatErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	chatToolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
)

const chatHelp = `Commands:
  /new              start a new session
  /user <id>        switch user
  /session <id>     switch to an existing session
  /clear            clear this session's history
  /details          toggle execution details
  exit, quit        leave`

func chatCmd() *cobra.Command {
	var (
		message   string
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively or send a one-shot message",
		Long: `Run turns in-process against the configured database, memory and provider.

Examples:
  querydesk chat                                  # Interactive REPL
  querydesk chat --user alice                     # Chat as user "alice"
  querydesk chat -m "How many orders did I place?" # One-shot message
  querydesk chat -s my-session                    # Continue a session`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(message, userID, sessionID)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: auto-generated)")
	return cmd
}

// chatState is the mutable REPL state.
type chatState struct {
	userID    string
	sessionID string
	details   bool
}

func runChat(message, userID, sessionID string) {
	cfg, err := loadConfig()
	if err != nil {
		exitf("loading config: %v", err)
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		exitf("%v", err)
	}
	defer a.close()

	st := &chatState{userID: userID, sessionID: sessionID}

	if message != "" {
		res, err := a.turns.Handle(ctx, turn.Request{UserID: st.userID, SessionID: st.sessionID, Query: message})
		if err != nil {
			exitf("%s", httpapi.ClassifyError(err).Message)
		}
		fmt.Println(res.Reply.Response)
		return
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, chatTitleStyle.Render("querydesk interactive chat"))
	fmt.Fprintln(os.Stderr, chatMutedStyle.Render(fmt.Sprintf("Model: %s | Memory: %s | User: %s", a.turns.Model(), a.memory.BackendName(), st.userID)))
	fmt.Fprintln(os.Stderr, chatMutedStyle.Render("Session: "+st.sessionID))
	fmt.Fprintln(os.Stderr, chatMutedStyle.Render(`Type "exit" to quit, "/help" for commands`))
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "help" {
			input = "/help"
		}
		if strings.HasPrefix(input, "/") {
			out, err := st.command(ctx, a, input)
			if err != nil {
				fmt.Fprintln(os.Stderr, chatErrorStyle.Render("Error: "+err.Error()))
			} else if out != "" {
				fmt.Fprintln(os.Stderr, chatMutedStyle.Render(out))
			}
			fmt.Fprintln(os.Stderr)
			continue
		}

		res, err := a.turns.Handle(ctx, turn.Request{UserID: st.userID, SessionID: st.sessionID, Query: input})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n\n", chatErrorStyle.Render("Error: "+httpapi.ClassifyError(err).Message))
			continue
		}
		if st.details {
			printTurnDetails(res)
		}
		fmt.Printf("\n%s\n\n", res.Reply.Response)
	}
}

var errUnknownCommand = errors.New("unknown command (try /help)")

// command runs one slash command and returns text to show.
func (st *chatState) command(ctx context.Context, a *app, input string) (string, error) {
	args, err := shellwords.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return "", errUnknownCommand
	}

	switch args[0] {
	case "/help":
		return chatHelp, nil
	case "/new":
		st.sessionID = newSessionID()
		return "New session: " + st.sessionID, nil
	case "/user":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return "", errors.New("usage: /user <id>")
		}
		st.userID = args[1]
		st.sessionID = newSessionID()
		return fmt.Sprintf("User: %s, new session: %s", st.userID, st.sessionID), nil
	case "/session":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return "", errors.New("usage: /session <id>")
		}
		st.sessionID = args[1]
		return "Session: " + st.sessionID, nil
	case "/clear":
		if a == nil {
			return "", errors.New("no active app")
		}
		if err := a.turns.ClearSession(ctx, st.sessionID); err != nil {
			return "", err
		}
		return "Cleared history for " + st.sessionID, nil
	case "/details":
		st.details = !st.details
		return fmt.Sprintf("Execution details: %v", st.details), nil
	default:
		return "", errUnknownCommand
	}
}

func printTurnDetails(res *turn.Result) {
	mc := res.MemoryContext
	fmt.Fprintln(os.Stderr, chatMutedStyle.Render(fmt.Sprintf(
		"  [turn] %s | %d iteration(s) | %s | memory p=%d s=%d f=%d | history=%d | ~%d tokens",
		res.RunID, res.Iterations, res.Duration.Round(time.Millisecond),
		mc.Preferences, mc.Summaries, mc.Facts, res.HistoryTurns, mc.Tokens,
	)))
	for _, name := range res.ToolsUsed {
		fmt.Fprintln(os.Stderr, chatToolStyle.Render("  [tool] "+name))
	}
	for _, q := range res.SQLQueries {
		fmt.Fprintln(os.Stderr, chatMutedStyle.Render("  [sql] "+truncateStr(q, 120)))
	}
}

func newSessionID() string {
	return "cli-" + uuid.NewString()
}
