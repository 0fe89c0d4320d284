package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"sealchat/internal/domain"
	"sealchat/internal/services/codec"
)

type shareOut struct {
	UserID   domain.UserID   `json:"userId"`
	DeviceID domain.DeviceID `json:"deviceId"`
	Payload  json.RawMessage `json:"payload"`
}

type failureOut struct {
	UserID   domain.UserID   `json:"userId"`
	DeviceID domain.DeviceID `json:"deviceId"`
	Error    string          `json:"error"`
}

type encryptOut struct {
	Payload       json.RawMessage `json:"payload"`
	SessionShares []shareOut      `json:"sessionShares,omitempty"`
	ShareFailures []failureOut    `json:"shareFailures,omitempty"`
}

func marshalEncryptResult(res codec.EncryptResult) ([]byte, error) {
	payload, err := domain.MarshalPayload(res.Payload)
	if err != nil {
		return nil, err
	}
	out := encryptOut{Payload: payload}
	for _, s := range res.SessionShares {
		b, err := domain.MarshalPayload(s.Payload)
		if err != nil {
			return nil, err
		}
		out.SessionShares = append(out.SessionShares, shareOut{
			UserID:   s.RecipientUserID,
			DeviceID: s.RecipientDeviceID,
			Payload:  b,
		})
	}
	for _, f := range res.ShareFailures {
		out.ShareFailures = append(out.ShareFailures, failureOut{
			UserID:   f.UserID,
			DeviceID: f.DeviceID,
			Error:    f.Err.Error(),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// readArg returns args[0], or stdin when there is no argument or it is "-".
func readArg(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) > 0 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(b))), nil
}

func readRecipients(path string) ([]domain.RecipientDevice, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []domain.RecipientDevice
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
