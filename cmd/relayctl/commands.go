package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"relay/internal/client"
	"relay/internal/domain"
	llmModels "relay/internal/domain/models/llm"
	llmSvc "relay/internal/domain/services/llm"
)

const exitStreamFailed = 2

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "Relay server base URL",
			Value:   "http://localhost:8080",
			EnvVars: []string{"RELAY_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token",
			EnvVars: []string{"RELAY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "user",
			Usage:   "User id for servers running dev auth",
			EnvVars: []string{"RELAY_USER"},
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Log skipped frames and poll errors to stderr",
		},
	}
}

var conversationFlag = &cli.StringFlag{
	Name:    "conversation",
	Aliases: []string{"c"},
	Usage:   "Conversation id",
}

func newAPI(c *cli.Context) *client.API {
	var opts []client.Option
	if token := c.String("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	if user := c.String("user"); user != "" {
		opts = append(opts, client.WithUserID(user))
	}
	return client.NewAPI(c.String("server"), opts...)
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message and render the streamed reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			conversationFlag,
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model id (server default when empty)"},
			&cli.StringFlag{Name: "effort", Usage: "Reasoning effort: high or low"},
			&cli.BoolFlag{Name: "web-search", Usage: "Allow the model to search the web"},
			&cli.StringSliceFlag{Name: "attach", Usage: "Object key of a file to use as context (repeatable)"},
			&cli.StringFlag{Name: "system", Usage: "System prompt"},
		},
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if message == "" {
		return cli.Exit("a message is required", 1)
	}

	api := newAPI(c)
	ctx := c.Context

	conversationID := c.String("conversation")
	var history []llmModels.Message
	if conversationID == "" {
		conversationID = uuid.NewString()
		fmt.Fprintf(os.Stderr, "conversation %s\n", conversationID)
	} else {
		messages, err := api.ListMessages(ctx, conversationID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		history = messages
	}

	req := &llmSvc.StreamRequest{
		Model:           c.String("model"),
		ReasoningEffort: c.String("effort"),
		WebSearch:       c.Bool("web-search"),
		Attachments:     c.StringSlice("attach"),
	}
	if system := c.String("system"); system != "" {
		req.System = &system
	}
	for _, m := range history {
		req.Messages = append(req.Messages, llmSvc.ChatMessage{Role: m.Role, Content: m.Content})
	}
	req.Messages = append(req.Messages, llmSvc.ChatMessage{Role: llmModels.RoleUser, Content: message})

	resp, err := api.Stream(ctx, conversationID, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return renderStream(c, resp.Body)
}

func renderStream(c *cli.Context, body io.Reader) error {
	out := c.App.Writer
	reader := client.NewStreamReader(client.StreamHandlers{
		OnContent: func(text string) { fmt.Fprint(out, text) },
		OnRetry: func(attempt int) {
			fmt.Fprintf(c.App.ErrWriter, "\n[attempt %d failed, retrying]\n", attempt)
		},
	}, newLogger(c))

	outcome, err := reader.Read(body)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	if outcome.Search != nil && len(outcome.Search.Results) > 0 {
		fmt.Fprintf(out, "\nSources for %q:\n", outcome.Search.Query)
		for _, r := range outcome.Search.Results {
			fmt.Fprintf(out, "  - %s <%s>\n", r.Title, r.URL)
		}
	}
	if outcome.Usage != nil {
		fmt.Fprintf(c.App.ErrWriter, "tokens: %d prompt, %d completion\n", outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens)
	}
	if outcome.Failed {
		return cli.Exit(fmt.Sprintf("response failed after %d of %d attempts", outcome.Attempts, outcome.MaxRetries), exitStreamFailed)
	}
	return nil
}

func attachCommand() *cli.Command {
	return &cli.Command{
		Name:  "attach",
		Usage: "Follow a conversation's live stream until it is persisted",
		Flags: []cli.Flag{
			conversationFlag,
			&cli.DurationFlag{Name: "interval", Usage: "Poll interval", Value: client.DefaultPollInterval},
			&cli.BoolFlag{Name: "live", Usage: "Hold a connection open instead of polling"},
		},
		Action: attachAction,
	}
}

func attachAction(c *cli.Context) error {
	conversationID := c.String("conversation")
	if conversationID == "" {
		return cli.Exit("--conversation is required", 1)
	}
	api := newAPI(c)

	if c.Bool("live") {
		resp, err := api.Live(c.Context, conversationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return cli.Exit("no live stream", 1)
			}
			return err
		}
		defer resp.Body.Close()
		return renderStream(c, resp.Body)
	}

	poller := client.NewPoller(api, api, c.Duration("interval"), newLogger(c))
	shown := 0
	final, err := poller.Follow(c.Context, conversationID, func(messages []llmModels.Message) {
		shown = printProgress(c.App.ErrWriter, messages, shown)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	printTranscript(c.App.Writer, final)
	return nil
}

// printProgress writes the growth of the trailing optimistic assistant text
// and returns how much of it has been shown.
func printProgress(w io.Writer, messages []llmModels.Message, shown int) int {
	if len(messages) == 0 {
		return shown
	}
	last := messages[len(messages)-1]
	if !last.Optimistic || last.Role != llmModels.RoleAssistant {
		return shown
	}
	if len(last.Content) > shown {
		fmt.Fprint(w, last.Content[shown:])
		return len(last.Content)
	}
	return shown
}

func transcriptCommand() *cli.Command {
	return &cli.Command{
		Name:  "transcript",
		Usage: "Print the canonical transcript",
		Flags: []cli.Flag{conversationFlag},
		Action: func(c *cli.Context) error {
			conversationID := c.String("conversation")
			if conversationID == "" {
				return cli.Exit("--conversation is required", 1)
			}
			messages, err := newAPI(c).ListMessages(c.Context, conversationID)
			if err != nil {
				return err
			}
			printTranscript(c.App.Writer, messages)
			return nil
		},
	}
}

func printTranscript(w io.Writer, messages []llmModels.Message) {
	for _, m := range messages {
		marker := ""
		if m.Optimistic {
			marker = " (pending)"
		}
		fmt.Fprintf(w, "[%s%s]\n%s\n\n", m.Role, marker, m.Content)
	}
}
