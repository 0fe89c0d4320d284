package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/decred/slog"

	"sealchat/internal/domain"
)

// HTTP is a key directory client.
type HTTP struct {
	Base string
	HTTP *http.Client
	Log  slog.Logger
}

var _ domain.PrekeyDirectory = (*HTTP)(nil)

func NewHTTP(base string, log slog.Logger) *HTTP {
	if log == nil {
		log = slog.Disabled
	}
	return &HTTP{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient, Log: log}
}

// uploadRequest is the body of POST /keys/upload.
type uploadRequest struct {
	Device domain.RecipientDevice `json:"device"`
	Keys   []domain.OneTimeKey    `json:"one_time_keys"`
}

// Upload publishes device and its one-time keys.
func (c *HTTP) Upload(ctx context.Context, user domain.UserID, device domain.RecipientDevice, keys []domain.OneTimeKey) error {
	device.UserID = user
	if err := c.do(ctx, http.MethodPost, "/keys/upload", uploadRequest{Device: device, Keys: keys}, nil); err != nil {
		return err
	}
	c.Log.Debugf("Uploaded %d one-time keys for %s/%s", len(keys), user, device.DeviceID)
	return nil
}

// Claim takes one of device's one-time keys. It returns nil, nil when the
// directory has none left.
func (c *HTTP) Claim(ctx context.Context, user domain.UserID, device domain.DeviceID) (*domain.ClaimedPrekey, error) {
	var out domain.ClaimedPrekey
	path := "/keys/claim/" + url.PathEscape(string(user)) + "/" + url.PathEscape(string(device))
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	if err == errNotFound {
		c.Log.Debugf("No one-time keys left for %s/%s", user, device)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Log.Tracef("Claimed key %s for %s/%s", out.KeyID, user, device)
	return &out, nil
}

// Devices lists the devices user has published.
func (c *HTTP) Devices(ctx context.Context, user domain.UserID) ([]domain.RecipientDevice, error) {
	var out []domain.RecipientDevice
	if err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(string(user)), nil, &out); err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// ClaimFunc adapts Claim to the signature the session layer takes.
func (c *HTTP) ClaimFunc() domain.ClaimPrekeyFunc { return c.Claim }

var errNotFound = errors.New("not found")

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay %s %s: %s", strings.ToLower(method), path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
