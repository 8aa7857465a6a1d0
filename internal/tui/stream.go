package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "charm.land/bubbletea/v2"
	"github.com/google/uuid"

	"github.com/quarry-ai/quarry/internal/chat"
	"github.com/quarry-ai/quarry/internal/config"
)

// streamBufferSize absorbs bursts of text chunks during UI render
// delays while keeping memory bounded.
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events.
// Using a single channel with union type simplifies select logic
// and eliminates complex multi-channel closure handling.
type streamEvent struct {
	// Exactly one of these fields is set per event
	text   string     // Text chunk (when non-empty)
	turn   *chat.Turn // Final turn (text family, when done)
	note   string     // Final message (image and video families, when done)
	status string     // Progress update (when non-empty)
	err    error      // Error (when non-nil)
	done   bool       // True when the exchange completed successfully
}

// Stream message types for Bubble Tea.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTextMsg struct {
	text string
}

type streamDoneMsg struct {
	turn *chat.Turn
	note string
}

type streamStatusMsg struct {
	status string
}

type streamErrorMsg struct {
	err error
}

// startTurn creates a command that runs one exchange against the
// session, dispatching on the model family.
//
// Goroutine lifecycle: the spawned goroutine exits when the exchange
// completes, the context is canceled, or an error occurs. Channel
// closure signals completion - no WaitGroup needed.
func (t *TUI) startTurn(query string) tea.Cmd {
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)
		ctx, cancel := context.WithTimeout(t.ctx, streamTimeout)

		go func() {
			defer cancel()
			defer close(eventCh)

			// Panic recovery to prevent TUI lockup
			defer func() {
				if r := recover(); r != nil {
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			// send delivers a terminal event (done or err). It must not
			// race against ctx.Done(): after a user cancel both select
			// cases would be ready and the runtime could drop the event,
			// closing the channel without a completion signal. The plain
			// send is safe because each exchange emits exactly one
			// terminal event and the listener drains the buffered
			// channel until it arrives.
			send := func(ev streamEvent) {
				eventCh <- ev
			}

			switch t.session.Family() {
			case config.FamilyImage:
				data, err := t.session.GenerateImage(ctx, query)
				if err != nil {
					send(streamEvent{err: err})
					return
				}
				path, err := saveImage(t.imageDir, data)
				if err != nil {
					send(streamEvent{err: err})
					return
				}
				send(streamEvent{done: true, note: "Image saved to " + path})

			case config.FamilyVideo:
				location, err := t.session.GenerateVideo(ctx, query, nil, func(status string) {
					select {
					case eventCh <- streamEvent{status: status}:
					default: // best-effort: don't block the poller
					}
				})
				if err != nil {
					send(streamEvent{err: err})
					return
				}
				send(streamEvent{done: true, note: "Video available at " + location})

			default:
				turn, err := t.session.Ask(ctx, query, nil, func(text string) error {
					select {
					case eventCh <- streamEvent{text: text}:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
				if err != nil {
					send(streamEvent{err: err})
					return
				}
				send(streamEvent{done: true, turn: turn})
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForStream creates a command to wait for the next stream event.
// Empty events are skipped via loop instead of recursion to prevent
// stack growth under pathological conditions.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}
		for {
			event, ok := <-eventCh
			if !ok {
				return streamErrorMsg{err: fmt.Errorf("stream ended without completion signal")}
			}
			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{turn: event.turn, note: event.note}
			case event.status != "":
				return streamStatusMsg{status: event.status}
			case event.text != "":
				return streamTextMsg{text: event.text}
			default:
				continue
			}
		}
	}
}

// saveImage writes generated image bytes to a uniquely named PNG under
// dir, creating the directory if needed.
func saveImage(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}
