package setup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by StartSession after Shutdown.
var ErrClosed = errors.New("setup: engine is shut down")

// StartRequest describes who asked for a session and from where.
type StartRequest struct {
	OwnerID   string
	OwnerName string
	GuildID   string
	GuildName string
	Origin    ChannelHandle
}

// StartSession opens a side channel for the owner, stores the session and
// sends the greeting with the first prompt. Either a fully greeted session
// is stored or nothing is.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if req.OwnerID == "" || req.GuildID == "" {
		return nil, fmt.Errorf("setup: owner and guild are required")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := e.starting[req.OwnerID]; busy || e.store.Has(req.OwnerID) {
		e.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	e.starting[req.OwnerID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.starting, req.OwnerID)
		e.mu.Unlock()
	}()

	now := e.now()
	s := &Session{
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		GuildID:       req.GuildID,
		GuildName:     req.GuildName,
		Origin:        req.Origin,
		CreatedAt:     now.UTC(),
		suggestedPass: e.newPass(),
	}
	s.defaultChannel = e.originDefault(ctx, req)
	s.pending = InputBuilder{}.
		WithCreatedBy(req.OwnerID).
		WithGuild(req.GuildID).
		WithCreatedAt(now)
	s.touch(now, e.settings.SessionTTL)

	owner := req.OwnerID
	ch, err := e.channels.CreatePrivateChannel(ctx, owner, func(ctx context.Context, msg Message) {
		e.HandleMessage(ctx, owner, msg)
	})
	if err != nil {
		e.log.Warn("setup: create side channel", "owner", owner, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChannelCreation, err)
	}
	s.SideChannel = ch

	// Hold the session while greeting so early replies queue behind it.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.store.Insert(s) {
		e.closeQuietly(ctx, s, "duplicate")
		return nil, ErrAlreadyActive
	}

	for _, line := range e.greeting(s) {
		if err := e.messenger.Send(ctx, ch, line); err != nil {
			e.store.Remove(s)
			e.closeQuietly(ctx, s, "greeting failed")
			e.log.Warn("setup: greet", "owner", owner, "channel", ch.ID, "error", err)
			return nil, fmt.Errorf("%w: greeting: %v", ErrChannelCreation, err)
		}
	}

	e.log.Info("setup: session started", "owner", owner, "guild", req.GuildID, "channel", ch.ID)
	return s, nil
}

// originDefault returns the origin when it is one of the guild's text
// channels. Threads and forum posts are not listed, so they get no default.
func (e *Engine) originDefault(ctx context.Context, req StartRequest) ChannelHandle {
	if req.Origin.ID == "" {
		return ChannelHandle{}
	}
	ch, ok, err := e.channels.ResolveChannelByName(ctx, req.GuildID, req.Origin.ID)
	if err != nil {
		e.log.Warn("setup: resolve origin channel", "owner", req.OwnerID, "channel", req.Origin.ID, "error", err)
		return ChannelHandle{}
	}
	if !ok {
		return ChannelHandle{}
	}
	return ch
}

func (e *Engine) greeting(s *Session) []string {
	name := s.OwnerName
	if name == "" {
		name = "there"
	}
	guild := s.GuildName
	if guild == "" {
		guild = "this server"
	}
	return []string{
		fmt.Sprintf("Hi %s! You want to set me up for an event in %s? I'll ask for the details, one at a time.", name, guild),
		fmt.Sprintf("To accept the value in parentheses, just send `%s`. Send `%s` at any time to stop.",
			e.settings.DefaultOption, e.settings.CancelWord),
		steps[StepChannel].prompt(e, s),
	}
}

// EndSession tears down the owner's session. It reports whether a session
// was ended; ending an absent session is a no-op.
func (e *Engine) EndSession(ctx context.Context, ownerID string, reason EndReason) bool {
	s := e.store.Get(ownerID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.end(ctx, s, reason)
}

// end removes s and closes its side channel. The caller holds s.mu. Only
// the call that removes s from the store closes the channel.
func (e *Engine) end(ctx context.Context, s *Session, reason EndReason) bool {
	if !e.store.Remove(s) {
		return false
	}
	if msg := e.farewell(reason); msg != "" {
		e.send(ctx, s, msg)
	}
	e.closeQuietly(ctx, s, reason.String())
	e.log.Info("setup: session ended", "owner", s.OwnerID, "guild", s.GuildID, "reason", reason.String(), "step", s.Step().String())
	return true
}

func (e *Engine) farewell(reason EndReason) string {
	switch reason {
	case ReasonCancelled:
		return "Setup cancelled. Run the setup command again whenever you're ready."
	case ReasonExpired:
		return fmt.Sprintf("This setup timed out after %s without an answer. Run the setup command again to start over.",
			e.settings.SessionTTL.Round(time.Minute))
	case ReasonShutdown:
		return "I'm restarting, so this setup was interrupted. Please run the setup command again in a moment."
	default:
		return ""
	}
}

func (e *Engine) closeQuietly(ctx context.Context, s *Session, reason string) {
	if err := e.channels.CloseChannel(ctx, s.SideChannel, reason); err != nil {
		e.log.Warn("setup: close side channel", "owner", s.OwnerID, "channel", s.SideChannel.ID, "error", err)
	}
}

// Sweep ends every session idle past its expiry and returns how many were
// reclaimed.
func (e *Engine) Sweep(ctx context.Context) int {
	n := 0
	for _, s := range e.store.Expired(e.now()) {
		s.mu.Lock()
		if s.expired(e.now()) && e.end(ctx, s, ReasonExpired) {
			n++
		}
		s.mu.Unlock()
	}
	if n > 0 {
		e.log.Info("setup: reclaimed expired sessions", "count", n)
	}
	return n
}

// RunReaper sweeps on the configured interval until ctx is cancelled.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(e.settings.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Shutdown refuses new sessions and ends every active one.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for _, s := range e.store.All() {
		s.mu.Lock()
		e.end(ctx, s, ReasonShutdown)
		s.mu.Unlock()
	}
}

// Sessions returns snapshots of the active sessions, oldest first.
func (e *Engine) Sessions() []SessionInfo {
	all := e.store.All()
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	return out
}
