package callbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// PlaceRequest describes one outbound call.
type PlaceRequest struct {
	To string
	// From falls back to the dialer's configured caller ID.
	From string
	Lead callstate.Lead
	// Backend overrides the configured backend for this call.
	Backend string
	// CallID is generated when empty.
	CallID string
}

// Initiator registers a call record and asks the telephony provider to dial it. The
// media stream later resolves the record through the callId stream parameter.
type Initiator struct {
	store  callstate.Store
	dialer transports.OutboundDialer
	now    func() time.Time
	logger *slog.Logger
}

func NewInitiator(store callstate.Store, dialer transports.OutboundDialer, logger *slog.Logger) *Initiator {
	return &Initiator{
		store:  store,
		dialer: dialer,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "initiator"),
	}
}

func (i *Initiator) Place(ctx context.Context, req PlaceRequest) (callstate.Record, error) {
	if strings.TrimSpace(req.To) == "" {
		return callstate.Record{}, errors.New("to is required")
	}
	if i.dialer == nil {
		return callstate.Record{}, errors.New("transport cannot place outbound calls")
	}
	backend := strings.ToLower(strings.TrimSpace(req.Backend))
	if backend != "" && backend != "composed" && backend != "bimodal" {
		return callstate.Record{}, fmt.Errorf("unknown backend %q", req.Backend)
	}
	rec := callstate.Record{
		CallID:    req.CallID,
		Lead:      req.Lead,
		Backend:   backend,
		Status:    "queued",
		CreatedAt: i.now().UTC(),
	}
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	if err := i.store.Register(ctx, rec); err != nil {
		return callstate.Record{}, fmt.Errorf("register call: %w", err)
	}

	sid, err := i.dialer.Dial(ctx, transports.DialRequest{To: req.To, From: req.From, CallID: rec.CallID})
	if err != nil {
		out := callstate.Outcome{Status: "failed", EndedAt: i.now().UTC()}
		if ferr := i.store.Finalize(ctx, rec.CallID, out); ferr != nil {
			i.logger.Warn("finalize_failed", slog.String("call_id", rec.CallID), slog.String("error", ferr.Error()))
		}
		return rec, fmt.Errorf("dial: %w", err)
	}
	rec.CallSID = sid
	rec.Status = "initiated"
	if err := i.store.Register(ctx, rec); err != nil {
		return rec, fmt.Errorf("register call sid: %w", err)
	}
	i.logger.Info("call_placed",
		slog.String("call_id", rec.CallID),
		slog.String("call_sid", sid),
		slog.String("to", redact.Text(req.To)),
		slog.String("backend", rec.Backend))
	return rec, nil
}
