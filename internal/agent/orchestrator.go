// Package agent is the scripted assistant behind the development backend.
// It writes every step of a turn to the session log and publishes the
// matching push frames, in the same order a real backend would.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/domain"
	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

// ErrTurnInProgress is returned when a session already has a running turn.
var ErrTurnInProgress = errors.New("agent: turn already in progress") //nolint:gochecknoglobals // sentinel error

const fallbackReply = "Sorry, I encountered an error processing your request."

// PubSubPublisher abstracts the pub/sub publish operation.
type PubSubPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Options struct {
	// StreamDelay is the pause between streamed text fragments.
	StreamDelay time.Duration
	Now         func() time.Time
}

// Orchestrator runs at most one assistant turn per session.
type Orchestrator struct {
	sessions domain.SessionLogRepository
	tools    *Registry
	pubsub   PubSubPublisher
	delay    time.Duration
	now      func() time.Time

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	closed bool

	wg       sync.WaitGroup
	done     chan struct{}
	shutdown sync.Once
}

func NewOrchestrator(sessions domain.SessionLogRepository, tools *Registry, pubsub PubSubPublisher, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		sessions: sessions,
		tools:    tools,
		pubsub:   pubsub,
		delay:    opts.StreamDelay,
		now:      now,
		active:   make(map[uuid.UUID]struct{}),
		done:     make(chan struct{}),
	}
}

// Shutdown cancels running turns and waits for them to stop.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.shutdown.Do(func() { close(o.done) })
	o.wg.Wait()
}

// HandleMessage records the user's message, echoes it on the session
// channel and starts the assistant turn in the background.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID uuid.UUID, msg domain.UserMessage) error {
	// A turn joins the wait group under mu so Shutdown never waits on a
	// group that is still growing.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("agent.Orchestrator.HandleMessage: %w", context.Canceled)
	}
	if _, busy := o.active[sessionID]; busy {
		o.mu.Unlock()
		return fmt.Errorf("agent.Orchestrator.HandleMessage: %w", ErrTurnInProgress)
	}
	o.active[sessionID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	entry, err := o.sessions.Append(ctx, sessionID, msg, "")
	if err != nil {
		o.release(sessionID)
		o.wg.Done()
		return fmt.Errorf("agent.Orchestrator.HandleMessage: %w", err)
	}
	o.publish(ctx, sessionID, domain.EntryFrame(entry))

	go o.runTurn(sessionID, msg)
	return nil
}

func (o *Orchestrator) release(sessionID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) runTurn(sessionID uuid.UUID, msg domain.UserMessage) {
	defer o.wg.Done()
	defer o.release(sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-o.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := log.With().Str("session_id", sessionID.String()).Logger()
	logger.Debug().Msg("turn started")

	if err := o.converse(ctx, sessionID, msg); err != nil {
		if ctx.Err() != nil {
			logger.Debug().Msg("turn cancelled")
			return
		}
		logger.Error().Err(err).Msg("turn failed")
		if e, appendErr := o.sessions.Append(ctx, sessionID, domain.AssistantMessage{Content: fallbackReply}, ""); appendErr == nil {
			o.publish(ctx, sessionID, domain.EntryFrame(e))
		}
	}

	o.publish(ctx, sessionID, domain.TurnCompleteFrame())
	logger.Debug().Msg("turn complete")
}

// converse is the scripted turn: think, read the sign when an image is
// attached, check the clock, answer.
func (o *Orchestrator) converse(ctx context.Context, sessionID uuid.UUID, msg domain.UserMessage) error {
	attached := msg.FileID != "" || msg.ImageURL != ""

	thought := "The user wants to know whether they can park. I should check the current time."
	if attached {
		thought = "The user attached a photo of a parking sign. I should read the sign and compare it with the current time."
	}
	if err := o.stream(ctx, sessionID, domain.ReasoningDeltaFrame, thought); err != nil {
		return err
	}
	if err := o.record(ctx, sessionID, domain.Reasoning{Content: thought}); err != nil {
		return err
	}

	var reading *SignReading
	if attached {
		raw, ok, err := o.callTool(ctx, sessionID, ToolReadParkingSign, map[string]any{"file_id": msg.FileID})
		if err != nil {
			return err
		}
		if ok {
			var r SignReading
			if json.Unmarshal(raw, &r) == nil {
				reading = &r
			}
		}
	}

	if _, _, err := o.callTool(ctx, sessionID, ToolCurrentTime, map[string]any{}); err != nil {
		return err
	}

	answer := Answer(reading, o.now())
	if err := o.stream(ctx, sessionID, domain.ContentDeltaFrame, answer); err != nil {
		return err
	}
	return o.record(ctx, sessionID, domain.AssistantMessage{Content: answer})
}

// callTool records a tool call and its result. A failing tool is not an
// error of the turn: it is recorded as failed with an error result, and ok
// is false.
func (o *Orchestrator) callTool(ctx context.Context, sessionID uuid.UUID, name string, args map[string]any) (json.RawMessage, bool, error) {
	tool, err := o.tools.Lookup(name)
	if err != nil {
		return nil, false, err
	}

	callID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	call, err := o.sessions.Append(ctx, sessionID, domain.ToolCall{CallID: callID, ToolName: name, Arguments: args}, domain.StatusPending)
	if err != nil {
		return nil, false, fmt.Errorf("agent.Orchestrator.callTool: %w", err)
	}
	o.publish(ctx, sessionID, domain.EntryFrame(call))

	if err := o.setStatus(ctx, sessionID, call.ID, domain.StatusRunning); err != nil {
		return nil, false, err
	}

	var sub *domain.Entry
	var child *domain.Session
	if tool.SubAgent != "" {
		child, err = o.sessions.CreateSession(ctx, &sessionID)
		if err != nil {
			return nil, false, fmt.Errorf("agent.Orchestrator.callTool: child session: %w", err)
		}
		e, err := o.sessions.Append(ctx, sessionID, domain.SubAgentCall{
			ChildSessionID: child.ID.String(),
			CallID:         callID,
			AgentName:      tool.SubAgent,
		}, domain.StatusRunning)
		if err != nil {
			return nil, false, fmt.Errorf("agent.Orchestrator.callTool: %w", err)
		}
		sub = &e
		o.publish(ctx, sessionID, domain.EntryFrame(e))
	}

	result, runErr := tool.Run(ctx, args)
	status := domain.StatusDone
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		log.Warn().Err(runErr).Str("tool", name).Str("session_id", sessionID.String()).Msg("tool execution failed")
		result, _ = json.Marshal(map[string]string{"error": "Tool execution failed: " + runErr.Error()})
		status = domain.StatusFailed
	}

	if sub != nil {
		if err := o.record(ctx, sessionID, domain.SubAgentResult{ChildSessionID: child.ID.String(), CallID: callID, Result: result}); err != nil {
			return nil, false, err
		}
		if err := o.setStatus(ctx, sessionID, sub.ID, status); err != nil {
			return nil, false, err
		}
	}

	if err := o.record(ctx, sessionID, domain.ToolResult{CallID: callID, Result: result}); err != nil {
		return nil, false, err
	}
	if err := o.setStatus(ctx, sessionID, call.ID, status); err != nil {
		return nil, false, err
	}

	return result, runErr == nil, nil
}

// record appends a final entry and publishes it.
func (o *Orchestrator) record(ctx context.Context, sessionID uuid.UUID, data domain.Payload) error {
	e, err := o.sessions.Append(ctx, sessionID, data, "")
	if err != nil {
		return fmt.Errorf("agent.Orchestrator.record(%s): %w", data.Kind(), err)
	}
	o.publish(ctx, sessionID, domain.EntryFrame(e))
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, sessionID, entryID uuid.UUID, status domain.Status) error {
	if _, err := o.sessions.SetStatus(ctx, entryID, status); err != nil {
		return fmt.Errorf("agent.Orchestrator.setStatus: %w", err)
	}
	o.publish(ctx, sessionID, domain.StatusFrame(entryID, status))
	return nil
}

// stream publishes text word by word through mk, pausing between fragments.
func (o *Orchestrator) stream(ctx context.Context, sessionID uuid.UUID, mk func(string) domain.Frame, text string) error {
	for _, fragment := range strings.SplitAfter(text, " ") {
		if fragment == "" {
			continue
		}
		o.publish(ctx, sessionID, mk(fragment))
		if o.delay <= 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.delay):
		}
	}
	return nil
}

// publish sends one frame to the session channel. Publishing is
// best-effort: a lost frame is repaired by the client's next snapshot.
func (o *Orchestrator) publish(ctx context.Context, sessionID uuid.UUID, f domain.Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("frame_type", string(f.Type)).Msg("agent.publish: marshal frame")
		return
	}

	channel := redisstore.SessionChannel(sessionID)
	if pubErr := o.pubsub.Publish(ctx, channel, payload); pubErr != nil {
		log.Error().Err(pubErr).Str("channel", channel).Msg("agent.publish: failed to publish frame")
	}
}
