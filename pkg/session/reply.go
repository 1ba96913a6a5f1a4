package session

import (
	"context"

	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/turn"
)

// BeginReply marks a reply in flight. It fails while another reply is in flight or after
// close. The returned context is cancelled by EndReply and by Close.
func (s *Session) BeginReply(reason string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if err := s.state.Transition(turn.StateThinking, reason); err != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.replyCancel = cancel
	return ctx, true
}

// EndReply clears the in-flight reply.
func (s *Session) EndReply(reason string) {
	s.mu.Lock()
	cancel := s.replyCancel
	s.replyCancel = nil
	closed := s.closed
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if closed {
		return
	}
	if s.state.Busy() {
		_ = s.state.Transition(turn.StateListening, reason)
	}
}

// Play queues an utterance for paced playback. done runs on the session loop after the
// completion mark is sent; it never runs if the session closes first.
func (s *Session) Play(ulaw []byte, done func()) {
	if s.Closed() {
		return
	}
	s.enterSpeaking("playback")
	s.pacer.Play(ulaw, s.afterPlayback(done))
}

// Stream queues a chunk of streamed provider audio without a completion mark.
func (s *Session) Stream(ulaw []byte) {
	if s.Closed() || len(ulaw) == 0 {
		return
	}
	s.enterSpeaking("stream")
	s.pacer.Enqueue(ulaw)
}

// FinishPlayback queues the completion mark for streamed audio.
func (s *Session) FinishPlayback(done func()) {
	if s.Closed() {
		return
	}
	s.pacer.Finish(s.afterPlayback(done))
}

// ClearPlayback drops queued audio that has not been sent, for barge-in.
func (s *Session) ClearPlayback() {
	s.pacer.Clear()
}

func (s *Session) PlaybackBusy() bool { return s.pacer.Busy() }

func (s *Session) enterSpeaking(reason string) {
	switch s.state.State() {
	case turn.StateSpeaking:
		return
	case turn.StateIdle, turn.StateListening:
		_ = s.state.Transition(turn.StateThinking, reason)
	}
	if s.state.Transition(turn.StateSpeaking, reason) == nil {
		metrics.Emit(s.obs, metrics.EventPlaybackStarted, map[string]string{"reason": reason})
	}
}

func (s *Session) afterPlayback(done func()) func() {
	return func() {
		s.Post(func() {
			s.logger.Debug("playback_completed")
			metrics.Emit(s.obs, metrics.EventPlaybackCompleted, nil)
			if done != nil {
				done()
			}
		})
	}
}
