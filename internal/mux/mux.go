// Package mux converts raw inbound platform events into typed tasks:
// mentions become Mention tasks, followed-channel traffic becomes
// FollowChat tasks carrying the rolling transcript, direct messages
// become DirectQuestion tasks, and card messages become AssistantChat
// tasks keyed by their card.
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/platform"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

// Multiplexer turns platform events into tasks on the out channel.
type Multiplexer struct {
	selfSocialID string
	out          chan *task.Task
	activity     chan struct{}
	logger       *slog.Logger

	mu          sync.Mutex
	transcripts map[string][]string
	titles      map[string]string
}

// maxTranscriptLines bounds the per-channel rolling buffer. A bound is
// a tunable here, not a correctness requirement.
const maxTranscriptLines = 200

// New creates a multiplexer. Messages authored by selfSocialID are
// accumulated into transcripts but never produce follow tasks.
func New(selfSocialID string, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		selfSocialID: selfSocialID,
		out:          make(chan *task.Task, 32),
		activity:     make(chan struct{}, 1),
		logger:       logger.With("component", "mux"),
		transcripts:  map[string][]string{},
		titles:       map[string]string{},
	}
}

// Tasks returns the typed task channel. Closed when Run returns.
func (m *Multiplexer) Tasks() <-chan *task.Task {
	return m.out
}

// Activity returns a channel that receives a tick for every inbound
// event; the scheduler drains it to arm active-only jobs.
func (m *Multiplexer) Activity() <-chan struct{} {
	return m.activity
}

// Run consumes events until ctx is cancelled or the event channel
// closes.
func (m *Multiplexer) Run(ctx context.Context, events <-chan platform.Event) error {
	defer close(m.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.notifyActivity()
			if t := m.route(ev); t != nil {
				select {
				case m.out <- t:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// route converts one event into a task, or nil when the event only
// feeds the transcript.
func (m *Multiplexer) route(ev platform.Event) *task.Task {
	switch ev.Kind {
	case platform.EventMention:
		m.append(ev)
		t := task.New(task.KindMention)
		t.SocialID = ev.SocialID
		t.PersonName = ev.PersonName
		t.ChannelID = ev.ChannelID
		t.ChannelTitle = ev.ChannelTitle
		t.MessageID = ev.MessageID
		t.Content = ev.Content
		return t

	case platform.EventChannelMessage:
		m.append(ev)
		if ev.SocialID == m.selfSocialID {
			return nil
		}
		t := task.New(task.KindFollowChat)
		t.ChannelID = ev.ChannelID
		t.ChannelTitle = ev.ChannelTitle
		t.MessageID = ev.MessageID
		t.Content = m.transcript(ev.ChannelID)
		return t

	case platform.EventDirectMessage:
		if ev.SocialID == m.selfSocialID {
			return nil
		}
		t := task.New(task.KindDirectQuestion)
		t.SocialID = ev.SocialID
		t.PersonName = ev.PersonName
		t.ChannelID = ev.ChannelID
		t.MessageID = ev.MessageID
		t.Content = ev.Content
		return t

	case platform.EventCardMessage:
		// Card history is persisted by the loop itself, keyed by card;
		// the transcript buffer stays out of it.
		if ev.SocialID == m.selfSocialID {
			return nil
		}
		t := task.New(task.KindAssistantChat)
		t.CardID = ev.CardID
		t.SocialID = ev.SocialID
		t.PersonName = ev.PersonName
		t.Content = ev.Content
		return t

	case platform.EventReaction:
		// Reactions feed activity gating only.
		return nil
	}
	m.logger.Warn("dropping event of unknown kind", "kind", ev.Kind)
	return nil
}

func (m *Multiplexer) append(ev platform.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := fmt.Sprintf("%s: %s", ev.PersonName, ev.Content)
	lines := append(m.transcripts[ev.ChannelID], line)
	if len(lines) > maxTranscriptLines {
		lines = lines[len(lines)-maxTranscriptLines:]
	}
	m.transcripts[ev.ChannelID] = lines
	if ev.ChannelTitle != "" {
		m.titles[ev.ChannelID] = ev.ChannelTitle
	}
}

func (m *Multiplexer) transcript(channelID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.transcripts[channelID], "\n")
}

func (m *Multiplexer) notifyActivity() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}
