package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"askova/pkg/domain"
	"askova/services/client/internal/gateway"
	"askova/services/client/internal/lifecycle"
)

// Opener starts a generation channel. Satisfied by *gateway.Client.
type Opener interface {
	StartGeneration(ctx context.Context, req gateway.GenerateRequest) (io.ReadCloser, error)
}

// Uploader receives fire-and-forget upload requests for finalized records.
// Satisfied by the sync engine. Failures are logged, never surfaced; the
// record keeps synced=false for a later reconciliation pass.
type Uploader interface {
	SyncMessage(ctx context.Context, id string)
	SyncQuiz(ctx context.Context, id string)
}

// Pipeline converts one outstanding generation request per quiz into ordered
// lifecycle calls. At most one channel is active per quiz; starting a second
// one cancels the first.
type Pipeline struct {
	opener   Opener
	ctrl     *lifecycle.Controller
	uploader Uploader

	mu     sync.Mutex
	active map[string]*channel
}

type channel struct {
	messageID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds the pipeline.
func New(opener Opener, ctrl *lifecycle.Controller, uploader Uploader) *Pipeline {
	return &Pipeline{
		opener:   opener,
		ctrl:     ctrl,
		uploader: uploader,
		active:   make(map[string]*channel),
	}
}

// Start opens a channel for the quiz and feeds its events to the lifecycle
// controller, updating the pre-allocated placeholder message. A channel
// already running for the same quiz is cancelled first and its placeholder
// finalized. The call returns once the channel is registered; ingestion runs
// in the background detached from the caller's context.
func (p *Pipeline) Start(genReq gateway.GenerateRequest, placeholderID string) {
	p.mu.Lock()
	// Re-check after reacquiring the lock: a concurrent Start may have
	// registered a fresh channel while this one waited on the old one.
	for {
		prev, ok := p.active[genReq.QuizID]
		if !ok {
			break
		}
		prev.cancel()
		p.mu.Unlock()
		<-prev.done
		p.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{messageID: placeholderID, cancel: cancel, done: make(chan struct{})}
	p.active[genReq.QuizID] = ch
	p.mu.Unlock()

	go p.run(ctx, genReq, ch)
}

// Cancel aborts the quiz's active channel, if any, and waits for its
// resources to be released. Channels of other quizzes are unaffected.
func (p *Pipeline) Cancel(quizID string) {
	p.mu.Lock()
	ch, ok := p.active[quizID]
	p.mu.Unlock()
	if !ok {
		return
	}
	ch.cancel()
	<-ch.done
}

// CancelAll aborts every active channel (shutdown path).
func (p *Pipeline) CancelAll() {
	p.mu.Lock()
	channels := make([]*channel, 0, len(p.active))
	for _, ch := range p.active {
		channels = append(channels, ch)
	}
	p.mu.Unlock()
	for _, ch := range channels {
		ch.cancel()
		<-ch.done
	}
}

func (p *Pipeline) run(ctx context.Context, genReq gateway.GenerateRequest, ch *channel) {
	defer close(ch.done)
	defer func() {
		p.mu.Lock()
		if p.active[genReq.QuizID] == ch {
			delete(p.active, genReq.QuizID)
		}
		p.mu.Unlock()
	}()
	// The channel is finalized exactly once on every exit path; the body,
	// when opened, is closed on every exit path.
	defer ch.cancel()

	body, err := p.opener.StartGeneration(ctx, genReq)
	if err != nil {
		if ctx.Err() != nil {
			p.finalizeCancelled(ch.messageID)
			return
		}
		slog.Warn("generation channel open failed", "quiz_id", genReq.QuizID, "err", err)
		p.ctrl.Finalize(context.Background(), ch.messageID, domain.MessageError, userFacingError(err.Error()))
		return
	}
	defer body.Close()

	dec := NewDecoder(body)
	for {
		if ctx.Err() != nil {
			p.finalizeCancelled(ch.messageID)
			return
		}
		ev, err := dec.Next()
		if err == io.EOF {
			// Stream ended without a done frame: treat as a transport
			// failure so the message never sticks in waiting/streaming.
			p.ctrl.Finalize(context.Background(), ch.messageID, domain.MessageError, userMsgNetwork)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				p.finalizeCancelled(ch.messageID)
				return
			}
			slog.Warn("generation channel read failed", "quiz_id", genReq.QuizID, "err", err)
			p.ctrl.Finalize(context.Background(), ch.messageID, domain.MessageError, userMsgNetwork)
			return
		}

		switch ev.Type {
		case EventMessage:
			var chunk string
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				slog.Warn("malformed chunk frame skipped", "quiz_id", genReq.QuizID, "err", err)
				continue
			}
			p.ctrl.AppendContent(ctx, ch.messageID, chunk)
		case EventDone:
			p.ctrl.Finalize(context.Background(), ch.messageID, domain.MessageDone, "")
			p.uploadFinalized(genReq.QuizID, ch.messageID)
			return
		case EventError:
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(ev.Data, &payload)
			p.ctrl.Finalize(context.Background(), ch.messageID, domain.MessageError, userFacingError(payload.Message))
			return
		default:
			slog.Debug("unknown event type skipped", "type", ev.Type)
		}
	}
}

func (p *Pipeline) finalizeCancelled(messageID string) {
	p.ctrl.Finalize(context.Background(), messageID, domain.MessageError, userMsgCancelled)
}

// uploadFinalized pushes the completed message (and its parent quiz) to the
// remote store as a detached best-effort task.
func (p *Pipeline) uploadFinalized(quizID, messageID string) {
	if p.uploader == nil {
		return
	}
	go func() {
		ctx := context.Background()
		p.uploader.SyncQuiz(ctx, quizID)
		p.uploader.SyncMessage(ctx, messageID)
	}()
}
