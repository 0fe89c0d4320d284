package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/slog"

	"sealchat/internal/domain"
	"sealchat/internal/metrics"
)

// Config holds a Codec's collaborators.
type Config struct {
	// DeviceID is this device. It is never encrypted to.
	DeviceID domain.DeviceID

	Store       domain.SessionStore
	Pairwise    domain.PairwiseManager
	Group       domain.GroupManager
	Distributor domain.KeyDistributor

	Log     slog.Logger
	Metrics *metrics.Metrics
}

// Codec encrypts and decrypts message payloads.
type Codec struct {
	device      domain.DeviceID
	store       domain.SessionStore
	pairwise    domain.PairwiseManager
	group       domain.GroupManager
	distributor domain.KeyDistributor
	log         slog.Logger
	metrics     *metrics.Metrics
}

func New(cfg Config) *Codec {
	c := &Codec{
		device:      cfg.DeviceID,
		store:       cfg.Store,
		pairwise:    cfg.Pairwise,
		group:       cfg.Group,
		distributor: cfg.Distributor,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
	}
	if c.log == nil {
		c.log = slog.Disabled
	}
	return c
}

// EncryptResult is an encrypted payload plus, when the message started a new
// group session, the key shares that must be delivered alongside it.
type EncryptResult struct {
	Payload domain.Payload

	SessionShares []domain.SessionSharePayload
	ShareFailures []domain.ShareFailure
}

// DecryptResult is the outcome of decrypting one payload. Err is nil on
// success and otherwise wraps one of the domain sentinel errors.
type DecryptResult struct {
	Success   bool
	Plaintext []byte
	Err       error
}

// IsReady reports whether a local account has been provisioned.
func (c *Codec) IsReady(ctx context.Context) bool {
	_, ok, err := c.store.GetAccount(ctx)
	if err != nil {
		c.log.Warnf("Unable to read account: %v", err)
		return false
	}
	return ok
}

// Encrypt encrypts plaintext for conv. A direct conversation with exactly
// one recipient device uses the pairwise session with it. Everything else
// uses the conversation's group session, and a newly created group session
// is shared with every recipient. A direct conversation with no device
// other than our own is rejected with ErrMalformedPayload.
func (c *Codec) Encrypt(
	ctx context.Context,
	conv domain.ConversationID,
	plaintext []byte,
	kind domain.ConversationKind,
	recipients []domain.RecipientDevice,
	claim domain.ClaimPrekeyFunc,
) (EncryptResult, error) {
	recipients = c.withoutSelf(recipients)
	if kind == domain.ConversationDirect && len(recipients) == 0 {
		return EncryptResult{}, fmt.Errorf("%w: direct conversation %s has no recipient devices",
			domain.ErrMalformedPayload, conv)
	}

	if kind == domain.ConversationDirect && len(recipients) == 1 {
		payload, err := c.pairwise.EncryptTo(ctx, recipients[0], claim, plaintext)
		if err != nil {
			return EncryptResult{}, err
		}
		c.metrics.Encrypted(string(domain.AlgorithmOlm))
		return EncryptResult{Payload: payload}, nil
	}

	ik, err := c.pairwise.IdentityKey(ctx)
	if err != nil {
		return EncryptResult{}, err
	}
	gc, err := c.group.Encrypt(ctx, conv, plaintext)
	if err != nil {
		return EncryptResult{}, err
	}
	c.metrics.Encrypted(string(domain.AlgorithmMegolm))

	res := EncryptResult{Payload: domain.MegolmPayload{
		SenderDeviceID:    c.device,
		SenderIdentityKey: ik,
		SessionID:         gc.SessionID,
		Ciphertext:        gc.Ciphertext,
	}}
	if gc.IsNew {
		res.SessionShares, res.ShareFailures = c.distributor.ShareSessionKey(ctx, conv,
			gc.SessionID, gc.SessionKey, recipients, claim)
		if len(res.ShareFailures) > 0 {
			c.log.Warnf("Session %s in %s not shared with %d of %d devices",
				gc.SessionID, conv, len(res.ShareFailures), len(recipients))
		}
	}
	return res, nil
}

// Decrypt decrypts payload. It never panics on bad input and never returns
// an error outside the result.
func (c *Codec) Decrypt(ctx context.Context, conv domain.ConversationID, payload domain.Payload) DecryptResult {
	var (
		alg       = "unknown"
		plaintext []byte
		err       error
	)
	switch p := payload.(type) {
	case domain.OlmPayload:
		alg = string(domain.AlgorithmOlm)
		plaintext, err = c.pairwise.ProcessInbound(ctx, p.SenderDeviceID,
			p.SenderIdentityKey, p.MessageType, p.Ciphertext)
	case domain.MegolmPayload:
		alg = string(domain.AlgorithmMegolm)
		if p.SessionID == "" {
			err = fmt.Errorf("%w: megolm payload without session id", domain.ErrMalformedPayload)
			break
		}
		plaintext, _, err = c.group.Decrypt(ctx, conv, p.SessionID, p.SenderIdentityKey, p.Ciphertext)
	default:
		err = fmt.Errorf("%w: payload type %T", domain.ErrMalformedPayload, payload)
	}

	if err != nil {
		err = classify(err)
		kind := ErrorKind(err)
		c.metrics.Decrypted(alg, kind)
		c.log.Debugf("Unable to decrypt %s message in %s: %v", alg, conv, err)
		return DecryptResult{Err: err}
	}
	c.metrics.Decrypted(alg, "ok")
	return DecryptResult{Success: true, Plaintext: plaintext}
}

// DecryptJSON decodes a wire payload and decrypts it.
func (c *Codec) DecryptJSON(ctx context.Context, conv domain.ConversationID, b []byte) DecryptResult {
	payload, err := domain.UnmarshalPayload(b)
	if err != nil {
		c.metrics.Decrypted("unknown", ErrorKind(err))
		return DecryptResult{Err: err}
	}
	return c.Decrypt(ctx, conv, payload)
}

// ProcessSessionShare decrypts a group session key sent by another device
// over the pairwise session and imports it.
func (c *Codec) ProcessSessionShare(
	ctx context.Context,
	conv domain.ConversationID,
	senderDevice domain.DeviceID,
	senderIdentity domain.Curve25519Public,
	encryptedSessionKey domain.OlmPayload,
) error {
	if encryptedSessionKey.SenderDeviceID != "" && encryptedSessionKey.SenderDeviceID != senderDevice {
		return fmt.Errorf("%w: share from %s claims sender %s", domain.ErrMalformedPayload,
			senderDevice, encryptedSessionKey.SenderDeviceID)
	}

	plaintext, err := c.pairwise.ProcessInbound(ctx, senderDevice, senderIdentity,
		encryptedSessionKey.MessageType, encryptedSessionKey.Ciphertext)
	if err != nil {
		return classify(err)
	}

	var env domain.SessionShareEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return fmt.Errorf("%w: session share: %w", domain.ErrMalformedPayload, err)
	}
	if env.SessionID == "" || env.SessionKey == "" {
		return fmt.Errorf("%w: session share missing id or key", domain.ErrMalformedPayload)
	}
	if err := c.group.ImportInbound(ctx, conv, env.SessionID, env.SessionKey, senderIdentity); err != nil {
		return classify(err)
	}
	c.log.Debugf("Imported session %s in %s from %s", env.SessionID, conv, senderDevice)
	return nil
}

func (c *Codec) withoutSelf(recipients []domain.RecipientDevice) []domain.RecipientDevice {
	out := recipients[:0:0]
	for _, r := range recipients {
		if r.DeviceID != c.device {
			out = append(out, r)
		}
	}
	return out
}

var kinds = []struct {
	err  error
	kind string
}{
	{domain.ErrPrekeyUnavailable, "prekey_unavailable"},
	{domain.ErrNoSessionFound, "no_session"},
	{domain.ErrReplayedMessage, "replayed"},
	{domain.ErrMalformedPayload, "malformed"},
	{domain.ErrAccountNotReady, "account_not_ready"},
	{domain.ErrDecryptionFailed, "decryption_failed"},
}

// ErrorKind returns a stable label for err, suitable for metrics and for
// choosing a placeholder to show in place of the message.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "decryption_failed"
}

// classify makes sure err wraps one of the domain sentinels.
func classify(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
}
