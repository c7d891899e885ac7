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
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zeusync/docsync/internal/core/engine"
	"github.com/zeusync/docsync/internal/core/events/bus"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/internal/core/session"
	"github.com/zeusync/docsync/internal/injector"
	"github.com/zeusync/docsync/pkg/delta"
)

const (
	FlagDoc            = "doc"
	FlagURL            = "url"
	FlagHTTPURL        = "http-url"
	FlagInitialTimeout = "initial-timeout"
	FlagDial           = "dial"
	FlagDialRetries    = "dial-retries"
)

// GetEditCmd returns the terminal editing session command.
func GetEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a document from the terminal",
		Long: `Opens an editing session for one document. Every input line is appended
to the document and sent to the other sessions. Commands:
  :title TEXT   set the title
  :save         save title and content
  :show         print the document
  :quit         close the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed(FlagDoc) {
				raw, _ := cmd.Flags().GetString(FlagDoc)
				id, err := protocol.ParseDocumentID(raw)
				if err != nil {
					return err
				}
				cfg.Session.DocumentID = int64(id)
			}
			if cmd.Flags().Changed(FlagURL) {
				cfg.Session.URL, _ = cmd.Flags().GetString(FlagURL)
			}
			if cmd.Flags().Changed(FlagHTTPURL) {
				cfg.Persistence.BaseURL, _ = cmd.Flags().GetString(FlagHTTPURL)
			}
			if cmd.Flags().Changed(FlagInitialTimeout) {
				cfg.Session.InitialTimeout, _ = cmd.Flags().GetDuration(FlagInitialTimeout)
			}
			if cmd.Flags().Changed(FlagDial) {
				mode, _ := cmd.Flags().GetString(FlagDial)
				cfg.Session.Dial.Mode = session.DialMode(mode)
			}
			if cmd.Flags().Changed(FlagDialRetries) {
				cfg.Session.Dial.MaxRetries, _ = cmd.Flags().GetInt(FlagDialRetries)
			}
			if err = cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := injector.InitializeSession(cfg)
			defer func() { _ = s.Logger.Sync() }()
			return runEditor(ctx, s.Engine, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(FlagDoc, "", "document id")
	cmd.Flags().String(FlagURL, "", "(optional) websocket endpoint, e.g. ws://localhost:8081/ws")
	cmd.Flags().String(FlagHTTPURL, "", "(optional) document service base url")
	cmd.Flags().Duration(FlagInitialTimeout, 0, "(optional) give up when no snapshot arrives in time, 0 waits forever")
	cmd.Flags().String(FlagDial, string(session.DialOnce), "(optional) dial policy: none or bounded")
	cmd.Flags().Int(FlagDialRetries, 5, "(optional) retries of the bounded dial policy")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetEditCmd())
}

// syncWriter serializes notices printed from the engine's goroutine with
// command output.
type syncWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

// runEditor drives e from line based input until the session ends. Input is
// read once the initial snapshot has arrived.
func runEditor(ctx context.Context, e *engine.Engine, in io.Reader, out io.Writer) error {
	out = &syncWriter{out: out}
	if err := subscribeNotices(e.Bus(), out); err != nil {
		return err
	}

	ready := make(chan struct{})
	var once sync.Once
	if _, err := e.Bus().Subscribe(engine.EventSessionInitial, func(bus.Event) error {
		once.Do(func() { close(ready) })
		return nil
	}); err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() { errs <- e.Run(ctx) }()

	go func() {
		select {
		case <-ready:
		case <-e.Done():
			return
		}

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			quit, err := handleLine(ctx, e, scanner.Text(), out)
			if err != nil && !errors.Is(err, engine.ErrClosed) {
				fmt.Fprintln(out, "!", err)
			}
			if quit {
				break
			}
		}
		e.Close()
	}()

	return <-errs
}

// handleLine runs one input line and reports whether the session should end.
func handleLine(ctx context.Context, e *engine.Engine, line string, out io.Writer) (bool, error) {
	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case ":quit":
		return true, nil
	case ":save":
		// failures are printed by the save.failed notice
		_ = e.Save(ctx)
		return false, nil
	case ":title":
		return false, e.SetTitle(ctx, arg)
	case ":show":
		doc, err := e.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "# %s\n%s", doc.Title, doc.Content.Text())
		return false, nil
	default:
		return false, e.EditWith(ctx, func(current *delta.Delta) *delta.Delta {
			return appendLine(current, line)
		})
	}
}

// appendLine returns the edit that adds line as the last line of doc. A
// document missing its final newline gets one back.
func appendLine(doc *delta.Delta, line string) *delta.Delta {
	length := doc.Length()
	switch {
	case length == 0:
		return delta.New().Insert(line+"\n", nil)
	case !endsWithNewline(doc):
		return delta.New().Retain(length, nil).Insert("\n"+line+"\n", nil)
	case length == 1:
		return delta.New().Insert(line, nil)
	default:
		return delta.New().Retain(length-1, nil).Insert("\n"+line, nil)
	}
}

func endsWithNewline(doc *delta.Delta) bool {
	if len(doc.Ops) == 0 {
		return false
	}
	last := doc.Ops[len(doc.Ops)-1]
	return last.InsertEmbed == nil && len(last.Insert) > 0 && last.Insert[len(last.Insert)-1] == '\n'
}

func subscribeNotices(b bus.EventBus, out io.Writer) error {
	notices := map[string]func(bus.Event){
		engine.EventSessionInitial: func(ev bus.Event) {
			fmt.Fprintf(out, "* opened %q\n", ev.Data().(engine.SessionEvent).Title)
		},
		engine.EventSaveSucceeded: func(bus.Event) {
			fmt.Fprintln(out, "* saved")
		},
		engine.EventSaveFailed: func(ev bus.Event) {
			fmt.Fprintln(out, "! save failed:", ev.Data().(engine.SaveEvent).Err)
		},
		engine.EventEditApplied: func(ev bus.Event) {
			fmt.Fprintln(out, "* remote edit", ev.Data().(engine.EditEvent).Delta)
		},
		engine.EventSessionClosed: func(ev bus.Event) {
			if err := ev.Data().(engine.SessionEvent).Err; err != nil {
				fmt.Fprintln(out, "! session closed:", err)
				return
			}
			fmt.Fprintln(out, "* session closed")
		},
	}
	for eventType, notice := range notices {
		notice := notice
		if _, err := b.Subscribe(eventType, func(ev bus.Event) error {
			notice(ev)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
