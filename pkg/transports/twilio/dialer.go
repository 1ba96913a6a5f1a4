package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/callbridge/pkg/transports"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// statusEvents are the call progress events Twilio reports to the status callback.
var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// Dialer places and ends calls through the Twilio REST API.
type Dialer struct {
	cfg     Config
	creator callCreator
	updater callUpdater
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

func (d *Dialer) rest() *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	})
}

// Dial creates the call. The voice webhook and status callback both carry req.CallID so
// the stream and every status update resolve the pre-registered record.
func (d *Dialer) Dial(ctx context.Context, req transports.DialRequest) (string, error) {
	_ = ctx
	from := req.From
	if from == "" {
		from = d.cfg.FromNumber
	}
	if req.To == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	client := d.creator
	if client == nil {
		client = d.rest().Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(from)
	params.SetUrl(withCallID(d.cfg.publicHTTPURL(d.cfg.VoicePath), req.CallID))
	params.SetMethod("POST")
	params.SetStatusCallback(withCallID(d.cfg.publicHTTPURL(d.cfg.StatusCallbackPath), req.CallID))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent(statusEvents)
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}

// Hangup marks the call completed, which ends the media stream and fires the status callback.
func (d *Dialer) Hangup(ctx context.Context, callSID string) error {
	_ = ctx
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	updater := d.updater
	if updater == nil {
		updater = d.rest().Api
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := updater.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("update call %s: %w", callSID, err)
	}
	return nil
}
