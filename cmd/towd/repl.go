package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/attachment"
	"github.com/roginn/towd-you-so/internal/domain"
)

// errQuit ends the session loop.
var errQuit = errors.New("quit") //nolint:gochecknoglobals // sentinel error

const helpText = `commands:
  /attach <path>   stage a photo for the next message
  /discard         drop the staged photo
  /debug           toggle tool and reasoning events
  /session <id>    open an existing session
  /new             start a new chat
  /quit            exit
anything else is sent to the assistant`

// conversation is the part of chat.Conversation the REPL drives.
type conversation interface {
	Send(ctx context.Context, content string) error
	SwitchSession(ctx context.Context, sessionID uuid.UUID) error
	NewChat()
	SetDebug(debug bool)
	SelectAttachment(a *attachment.Attachment)
	DiscardAttachment()
}

// repl turns input lines into conversation calls. Commands run off the UI
// goroutine; mu keeps them in submission order.
type repl struct {
	mu    sync.Mutex
	conv  conversation
	debug bool
}

// parseCommand splits "/name arg..." into its name and argument. Lines that
// are not commands yield an empty name.
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// handle executes one input line and returns a notice for the status line,
// empty when there is nothing to say. It returns errQuit when the user leaves.
func (r *repl) handle(ctx context.Context, line string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, arg := parseCommand(line)
	switch name {
	case "":
		return r.send(ctx, arg), nil
	case "quit", "exit":
		return "", errQuit
	case "help":
		return helpText, nil
	case "attach":
		if arg == "" {
			return "usage: /attach <path>", nil
		}
		a, err := attachment.FromFile(arg)
		if err != nil {
			return fmt.Sprintf("cannot attach %s: %v", arg, err), nil
		}
		r.conv.SelectAttachment(a)
	case "discard":
		r.conv.DiscardAttachment()
	case "debug":
		r.debug = !r.debug
		r.conv.SetDebug(r.debug)
	case "session":
		id, err := uuid.Parse(arg)
		if err != nil {
			return "usage: /session <uuid>", nil
		}
		if err := r.conv.SwitchSession(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "no such session: " + id.String(), nil
			}
			return "cannot open session: " + err.Error(), nil
		}
	case "new":
		r.conv.NewChat()
	default:
		return "unknown command /" + name + ", try /help", nil
	}
	return "", nil
}

func (r *repl) send(ctx context.Context, content string) string {
	err := r.conv.Send(ctx, content)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrEmptyMessage):
		return "type a message or /attach a photo first"
	case errors.Is(err, domain.ErrAwaitingReply):
		return "still waiting for the previous reply"
	default:
		// Already shown in the conversation as an assistant entry.
		log.Debug().Err(err).Msg("send failed")
		return ""
	}
}
