package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/peterh/liner"

	"github.com/ambient-labs/aria/internal/reminder"
	"github.com/ambient-labs/aria/internal/session"
	"github.com/ambient-labs/aria/internal/tooldispatch"
)

// console is the terminal front-end: a liner prompt loop on one side and
// session callbacks printing transcripts on the other.
type console struct {
	sess *session.Session
}

func newConsole() *console {
	return &console{}
}

// attach hands the console its session. Callbacks can fire before Run
// starts, so the session is wired here rather than in the constructor.
func (c *console) attach(s *session.Session) {
	c.sess = s
}

func (c *console) callbacks(personaName string) session.Callbacks {
	if personaName == "" {
		personaName = "aria"
	}
	return session.Callbacks{
		OnTranscription: func(t session.Turn) {
			name := personaName
			if t.Sender == "user" {
				name = "you"
			}
			if t.IsNew {
				fmt.Printf("\n%s: %s", name, t.Text)
			} else if t.IsCorrection {
				fmt.Printf(" [%s]", strings.TrimSpace(t.Text))
			} else {
				fmt.Print(t.Text)
			}
		},
		OnInternalThought: func(thought string) {
			fmt.Printf("\n(%s thinks: %s)\n", personaName, thought)
		},
		OnToolConfirmation: func(req tooldispatch.ConfirmationRequest) {
			fmt.Printf("\n[aria] %s wants to run %s%s — /yes %s or /no %s\n",
				personaName, req.Tool, renderArgs(req.Args), req.ID, req.ID)
		},
		OnReminderFired: func(r reminder.Reminder) {
			fmt.Printf("\n[aria] reminder: %s\n", r.Message)
		},
		OnConnected: func(reconnect bool) {
			if reconnect {
				log.Println("[aria] reconnected")
			} else {
				log.Println("[aria] connected")
			}
		},
		OnError: func(err error) {
			log.Printf("[aria] session: %v", err)
		},
	}
}

// loop reads console input until /quit, EOF or Ctrl-C. Plain lines go to
// the session as user text.
func (c *console) loop(ctx context.Context) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()
	line.SetCtrlCAborts(true)

	fmt.Println("Type to talk; /help for commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read console input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !strings.HasPrefix(input, "/") {
			if err := c.sess.SendText(ctx, input); err != nil {
				log.Printf("[aria] send: %v", err)
			}
			continue
		}
		if quit := c.command(input); quit {
			return nil
		}
	}
}

// command handles a /-prefixed console command and reports whether the
// loop should exit.
func (c *console) command(input string) bool {
	fields := strings.Fields(input)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/pause":
		c.sess.SetPaused(true)
		fmt.Println("[aria] paused; idle check-ins are off")
	case "/resume":
		c.sess.SetPaused(false)
		fmt.Println("[aria] resumed")
	case "/video":
		switch arg {
		case "off", "camera", "screen":
			c.sess.SetVideoMode(arg)
			fmt.Printf("[aria] video mode: %s (applies on next connection)\n", arg)
		default:
			fmt.Println("usage: /video off|camera|screen")
		}
	case "/yes", "/no":
		if arg == "" {
			fmt.Printf("usage: %s <confirmation-id>\n", fields[0])
			break
		}
		c.sess.ResolveToolConfirmation(arg, fields[0] == "/yes")
	case "/note":
		rest := strings.TrimSpace(strings.TrimPrefix(input, "/note"))
		if rest == "" {
			fmt.Println("usage: /note <text sent as a system notice>")
			break
		}
		c.sess.NotifySystem(rest)
	case "/help":
		fmt.Print(`commands:
  /pause            stop idle check-ins
  /resume           allow idle check-ins again
  /video <mode>     off, camera or screen
  /yes <id>         approve a pending tool call
  /no <id>          deny a pending tool call
  /note <text>      inject a system notice
  /quit             exit
`)
	default:
		fmt.Printf("unknown command %q; /help lists commands\n", fields[0])
	}
	return false
}
