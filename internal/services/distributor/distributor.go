package distributor

import (
	"context"
	"encoding/json"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"sealchat/internal/domain"
	"sealchat/internal/metrics"
)

// DefaultConcurrency bounds how many devices are encrypted to at once.
const DefaultConcurrency = 8

type Config struct {
	Pairwise domain.PairwiseManager
	Log      slog.Logger
	Metrics  *metrics.Metrics

	// Concurrency defaults to DefaultConcurrency.
	Concurrency int
}

// Distributor implements domain.KeyDistributor.
type Distributor struct {
	pairwise domain.PairwiseManager
	log      slog.Logger
	metrics  *metrics.Metrics
	limit    int
}

var _ domain.KeyDistributor = (*Distributor)(nil)

func New(cfg Config) *Distributor {
	d := &Distributor{
		pairwise: cfg.Pairwise,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		limit:    cfg.Concurrency,
	}
	if d.log == nil {
		d.log = slog.Disabled
	}
	if d.limit <= 0 {
		d.limit = DefaultConcurrency
	}
	return d
}

// ShareSessionKey encrypts the session key to every recipient. A device that
// fails is reported in the second return value and does not stop the
// others. Payloads and failures are returned in recipient order.
func (d *Distributor) ShareSessionKey(
	ctx context.Context,
	conv domain.ConversationID,
	id domain.SessionID,
	sessionKey string,
	recipients []domain.RecipientDevice,
	claim domain.ClaimPrekeyFunc,
) ([]domain.SessionSharePayload, []domain.ShareFailure) {
	envelope, err := json.Marshal(domain.SessionShareEnvelope{SessionID: id, SessionKey: sessionKey})
	if err != nil {
		failures := make([]domain.ShareFailure, 0, len(recipients))
		for _, r := range recipients {
			failures = append(failures, domain.ShareFailure{UserID: r.UserID, DeviceID: r.DeviceID, Err: err})
		}
		d.metrics.ShareFailed(len(failures))
		return nil, failures
	}

	results := make([]*domain.SessionSharePayload, len(recipients))
	errs := make([]error, len(recipients))

	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, r := range recipients {
		g.Go(func() error {
			payload, err := d.pairwise.EncryptTo(ctx, r, claim, envelope)
			if err != nil {
				d.log.Warnf("Unable to share session %s in %s with %s/%s: %v",
					id, conv, r.UserID, r.DeviceID, err)
				errs[i] = err
				return nil
			}
			results[i] = &domain.SessionSharePayload{
				RecipientUserID:   r.UserID,
				RecipientDeviceID: r.DeviceID,
				ConversationID:    conv,
				SessionID:         id,
				Payload:           payload,
			}
			return nil
		})
	}
	_ = g.Wait()

	shares := make([]domain.SessionSharePayload, 0, len(recipients))
	var failures []domain.ShareFailure
	for i, p := range results {
		if p != nil {
			shares = append(shares, *p)
			continue
		}
		r := recipients[i]
		failures = append(failures, domain.ShareFailure{UserID: r.UserID, DeviceID: r.DeviceID, Err: errs[i]})
	}
	d.metrics.ShareFailed(len(failures))
	d.log.Debugf("Shared session %s in %s with %d of %d devices", id, conv,
		len(shares), len(recipients))
	return shares, failures
}
