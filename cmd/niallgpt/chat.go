package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/niallgpt/niallgpt/internal/app/chat"
	"github.com/niallgpt/niallgpt/internal/app/voice"
	"github.com/niallgpt/niallgpt/internal/bootstrap"
	"github.com/niallgpt/niallgpt/internal/domain"
)

var (
	chatCall      bool
	chatSpeak     bool
	chatSearch    bool
	chatSession   string
	chatTTSBinary string
)

// chatCmd runs the terminal chat
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Starts an interactive chat on the active session. Replies stream as they
arrive; Ctrl-C stops the current reply, and Ctrl-C while idle exits.

Commands:
  /new [name]        start a new session
  /regen             regenerate the last reply
  /imagine <prompt>  generate an image
  /quit              exit

With --call every line is sent as a spoken utterance; combine with --speak
to hear the replies.`,
	RunE: runChat,
}

func init() {
	for _, fs := range []*cobra.Command{rootCmd, chatCmd} {
		fs.Flags().BoolVar(&chatCall, "call", false, "Voice call mode: send each utterance as it is finalized")
		fs.Flags().BoolVar(&chatSpeak, "speak", false, "Read replies aloud")
		fs.Flags().BoolVar(&chatSearch, "search", false, "Ground replies with web search (default from NIALL_SEARCH)")
		fs.Flags().StringVar(&chatSession, "session", "", "Session id to activate")
		fs.Flags().StringVar(&chatTTSBinary, "tts", "espeak", "Text-to-speech command used by --speak")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	printer := newStreamPrinter(out)

	var speaker *voice.Speaker
	if chatSpeak {
		speaker = voice.NewSpeaker(voice.NewCommandSynthesizer(chatTTSBinary), func(err error) {
			fmt.Fprintf(os.Stderr, "Speech output unavailable: %v\n", err)
		})
		defer speaker.Stop()
		printer.onFinal = func(msg *domain.Message) {
			speaker.Stop()
			speaker.Toggle(ctx, msg)
		}
	}

	app, err := openApp(ctx, false, bootstrap.WithObserver(printer))
	if err != nil {
		return err
	}
	defer app.Close()

	if chatSession != "" {
		if err := app.Sessions.SetActive(ctx, domain.SessionID(chatSession)); err != nil {
			return fmt.Errorf("activating session %s: %w", chatSession, err)
		}
	}
	// the configured default applies unless the flag is given
	if cmd.Flags().Changed("search") {
		app.Chat.SetSearchEnabled(chatSearch)
	}

	// Ctrl-C stops the running turn, or exits when idle.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if !app.Chat.Stop() {
					cancel()
					return
				}
			}
		}
	}()

	sess, _ := app.Sessions.Active()
	fmt.Fprintf(out, "NiallGPT - session %q (%d messages). /quit to exit.\n", sess.Name, len(sess.Messages))

	if chatCall {
		d := voice.NewDictation(voice.NewLineRecognizer(cmd.InOrStdin()), app.Chat, voice.ModeCall, func(err error) {
			fmt.Fprintf(os.Stderr, "Speech input unavailable: %v\n", err)
		})
		// the line reader only notices cancellation on its next line
		errc := make(chan error, 1)
		go func() { errc <- d.Run(ctx) }()
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			return nil
		}
	}

	return chatLoop(ctx, cmd.InOrStdin(), out, app)
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, app *bootstrap.App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Scanning runs apart from the loop so an idle Ctrl-C exits without
	// waiting for the next line.
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		var err error
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new" || strings.HasPrefix(line, "/new "):
			sess := app.Sessions.CreateSession(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/new")))
			fmt.Fprintf(out, "Started session %q (%s)\n", sess.Name, sess.ID)
			continue
		case line == "/regen":
			err = regenerateLast(ctx, app)
		default:
			app.Chat.SetInput(line)
			err = app.Chat.SendInput(ctx)
		}

		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func regenerateLast(ctx context.Context, app *bootstrap.App) error {
	sess, ok := app.Sessions.Active()
	if !ok {
		return chat.ErrNoActiveSession
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Sender == domain.SenderAI {
			return app.Chat.Regenerate(ctx, sess.Messages[i].ID)
		}
	}
	return chat.ErrMessageNotFound
}

// streamPrinter writes AI replies to the terminal as they stream in.
type streamPrinter struct {
	out     io.Writer
	onFinal func(*domain.Message)

	mu      sync.Mutex
	printed map[domain.MessageID]string
}

func newStreamPrinter(out io.Writer) *streamPrinter {
	return &streamPrinter{out: out, printed: make(map[domain.MessageID]string)}
}

// MessageUpdated implements chat.Observer.
func (p *streamPrinter) MessageUpdated(_ domain.SessionID, msg *domain.Message) {
	if msg.Sender != domain.SenderAI {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := p.printed[msg.ID]
	text := visibleText(msg)

	switch {
	case strings.HasPrefix(text, done):
		fmt.Fprint(p.out, text[len(done):])
	case strings.HasPrefix(done, text):
		// final text only lost trailing whitespace
	default:
		fmt.Fprint(p.out, "\n"+text)
	}
	p.printed[msg.ID] = text

	if msg.IsLoading {
		return
	}

	fmt.Fprintln(p.out)
	if msg.ImageURL != "" {
		fmt.Fprintf(p.out, "  (image: %d bytes as data URL)\n", len(msg.ImageURL))
	}
	for _, c := range msg.GroundingChunks {
		fmt.Fprintf(p.out, "  source: %s %s\n", c.Title, c.URI)
	}
	if len(msg.Suggestions) > 0 {
		fmt.Fprintf(p.out, "  suggestions: %s\n", strings.Join(msg.Suggestions, " | "))
	}
	delete(p.printed, msg.ID)

	if p.onFinal != nil {
		p.onFinal(msg)
	}
}

// visibleText hides placeholders and holds back a directive marker that is
// still streaming.
func visibleText(msg *domain.Message) string {
	if msg.IsLoading {
		if msg.Text == domain.PlaceholderText || msg.Text == domain.GeneratingImage {
			return ""
		}
		if i := strings.Index(msg.Text, "[NiallGPT_"); i >= 0 {
			return msg.Text[:i]
		}
	}
	return msg.Text
}
