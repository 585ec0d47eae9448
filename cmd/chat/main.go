// chat is a terminal client for the livestock assistant. It keeps the active
// conversation and login token in a small state file so a later run resumes
// where the previous one stopped.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/abhirockzz/livestock-chat-assistant/api"
	"github.com/abhirockzz/livestock-chat-assistant/config"
	"github.com/abhirockzz/livestock-chat-assistant/conversation"
	"github.com/abhirockzz/livestock-chat-assistant/localstore"
	"github.com/abhirockzz/livestock-chat-assistant/session"
	"github.com/abhirockzz/livestock-chat-assistant/state"
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		baseURL    string
		token      string
		statePath  string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file (default: ~/.config/livestock-chat/config.json)")
	flagSet.StringVar(&baseURL, "base-url", "", "backend API base URL, e.g. http://localhost:8080/api")
	flagSet.StringVarP(&token, "token", "t", "", "bearer token to use instead of logging in")
	flagSet.StringVar(&statePath, "state", "", "state file for the active conversation and token")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(flagSet)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if token != "" {
		cfg.Token = token
	}
	if statePath != "" {
		cfg.StatePath = statePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	local, err := localstore.OpenFile(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("opening state file: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := api.NewClient(cfg.BaseURL, &api.Options{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
		Logger:     logger,
	})
	store := state.NewStore(state.Initial())
	ctrl := session.New(client, store, local, &session.Options{
		Logger:       logger,
		MessageLimit: cfg.MessageLimit,
		Directory:    &conversation.Options{PageSize: cfg.PageSize},
	})

	if cfg.Token != "" {
		ctrl.UseToken(ctx, cfg.Token)
	} else if !ctrl.RestoreToken(ctx) {
		fmt.Println(faint("Not logged in. Use /login <email> <password> or start with --token."))
	}

	fmt.Println(boldGreen("Trợ lý chăn nuôi"))
	fmt.Printf("Backend: %s\n", boldCyan(cfg.BaseURL))
	fmt.Println("Type a question and press Enter. /help lists commands, /exit quits.")
	fmt.Println()

	r := &repl{ctrl: ctrl, out: os.Stdout}
	if store.Token() != "" {
		r.refresh(ctx)
	}
	if len(store.State().Chat.Messages) == 0 {
		ctrl.LoadLegacyHistory(ctx)
	}
	r.printTranscript()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(r.out, boldGreen("Bạn: "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if strings.HasPrefix(line, "/") {
			r.command(ctx, line)
			continue
		}
		r.send(ctx, line)
	}
	return scanner.Err()
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if errors.Is(err, config.ErrNoConfig) && path == "" {
		return config.Default(), nil
	}
	return cfg, err
}

type repl struct {
	ctrl *session.Controller
	out  io.Writer
}

func (r *repl) send(ctx context.Context, text string) {
	if err := r.ctrl.Send(ctx, text); err != nil {
		fmt.Fprintln(r.out, red(api.FormatError(err)))
		return
	}

	s := r.ctrl.State()
	if n := len(s.Chat.Messages); n > 0 && !s.Chat.Messages[n-1].IsUser {
		fmt.Fprintf(r.out, "%s %s\n\n", boldCyan("Trợ lý:"), s.Chat.Messages[n-1].Text)
	}
	if s.Chat.Error != "" && api.IsAuthErrorText(s.Chat.Error) {
		r.ctrl.HandleAuthError(ctx)
		fmt.Fprintln(r.out, red(api.MsgSessionExpired))
		return
	}
	r.ctrl.ClearError()
	r.ctrl.Sync(ctx)
}

func (r *repl) refresh(ctx context.Context) {
	if err := r.ctrl.Refresh(ctx); err != nil {
		fmt.Fprintln(r.out, red(api.FormatError(err)))
		if api.IsAuthError(err) {
			r.ctrl.HandleAuthError(ctx)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(r.out, `/new                 start a new conversation
/list                list conversations
/open <n>            switch to conversation n
/delete <n>          delete conversation n
/rename <n> <title>  rename conversation n
/show                print the transcript
/clear               clear the transcript
/login <email> <pw>  log in
/logout              log out
/batches             list your facility's batches
/knowledge           list knowledge you uploaded
/exit                quit`)

	case "/new":
		r.ctrl.StartNew(ctx)
		fmt.Fprintln(r.out, faint("Cuộc trò chuyện mới."))

	case "/list":
		r.refresh(ctx)
		r.printList()

	case "/open", "/delete", "/rename":
		id, ok := r.pick(fields)
		if !ok {
			return
		}
		switch fields[0] {
		case "/open":
			r.ctrl.Select(ctx, id)
			r.printTranscript()
		case "/delete":
			if err := r.ctrl.Remove(ctx, id); err != nil {
				fmt.Fprintln(r.out, red(api.FormatError(err)))
				return
			}
			r.printList()
		case "/rename":
			if len(fields) < 3 {
				fmt.Fprintln(r.out, red("usage: /rename <n> <title>"))
				return
			}
			title := strings.Join(fields[2:], " ")
			if err := r.ctrl.Directory().RenameRemote(ctx, id, title); err != nil {
				fmt.Fprintln(r.out, red(api.FormatError(err)))
				return
			}
			r.printList()
		}

	case "/show":
		r.printTranscript()

	case "/clear":
		r.ctrl.ClearHistory(ctx)

	case "/login":
		if len(fields) != 3 {
			fmt.Fprintln(r.out, red("usage: /login <email> <password>"))
			return
		}
		if err := r.ctrl.Login(ctx, fields[1], fields[2]); err != nil {
			fmt.Fprintln(r.out, red(r.ctrl.State().Auth.Error))
			return
		}
		if u := r.ctrl.State().Auth.User; u != nil {
			fmt.Fprintf(r.out, "Xin chào, %s.\n", u.Name)
		}
		r.refresh(ctx)
		r.printTranscript()

	case "/logout":
		r.ctrl.Logout(ctx)
		fmt.Fprintln(r.out, faint("Đã đăng xuất."))

	case "/batches":
		if err := r.ctrl.FetchBatches(ctx); err != nil {
			fmt.Fprintln(r.out, red(api.FormatError(err)))
			return
		}
		for _, b := range r.ctrl.State().Batches.Items {
			fmt.Fprintf(r.out, "%s  %s  %s  %g %s\n", b.AssetID, b.ProductName, b.Status, b.CurrentQuantity.Value, b.CurrentQuantity.Unit)
		}

	case "/knowledge":
		resp, err := r.ctrl.MyKnowledge(ctx, 0, 0, false)
		if err != nil {
			fmt.Fprintln(r.out, red(api.FormatError(err)))
			return
		}
		fmt.Fprintf(r.out, "%d items\n", resp.Count)
		for _, k := range resp.Items {
			fmt.Fprintf(r.out, "- [%s/%s] %s\n", k.Species, k.Stage, k.Content)
		}

	default:
		fmt.Fprintln(r.out, red("unknown command, try /help"))
	}
}

// pick resolves the 1-based list index in fields[1] to a conversation id.
func (r *repl) pick(fields []string) (string, bool) {
	if len(fields) < 2 {
		fmt.Fprintf(r.out, "%s\n", red("usage: "+fields[0]+" <n>"))
		return "", false
	}
	n, err := strconv.Atoi(fields[1])
	convs := r.ctrl.Directory().Conversations()
	if err != nil || n < 1 || n > len(convs) {
		fmt.Fprintln(r.out, red("no such conversation"))
		return "", false
	}
	return convs[n-1].ID, true
}

func (r *repl) printList() {
	active := r.ctrl.Directory().Active()
	convs := r.ctrl.Directory().Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(r.out, faint("(no conversations)"))
		return
	}
	for i, c := range convs {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %s %s\n", marker, i+1, c.Title, faint(c.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}

func (r *repl) printTranscript() {
	for _, m := range r.ctrl.State().Chat.Messages {
		if m.IsUser {
			fmt.Fprintf(r.out, "%s %s\n", boldGreen("Bạn:"), m.Text)
		} else {
			fmt.Fprintf(r.out, "%s %s\n\n", boldCyan("Trợ lý:"), m.Text)
		}
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: chat [flags]\n\nFlags:\n%s", flagSet.FlagUsages())
}
