package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"

	"sealchat/internal/domain"
)

type deviceEntry struct {
	device domain.RecipientDevice
	keys   []domain.OneTimeKey
}

// Directory is an in-memory key directory. Each one-time key is handed out
// at most once.
type Directory struct {
	mu    sync.Mutex
	users map[domain.UserID]map[domain.DeviceID]*deviceEntry
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[domain.UserID]map[domain.DeviceID]*deviceEntry)}
}

// Upload records device and appends keys to its pool, skipping key ids it
// already holds.
func (d *Directory) Upload(user domain.UserID, device domain.RecipientDevice, keys []domain.OneTimeKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	devs, ok := d.users[user]
	if !ok {
		devs = make(map[domain.DeviceID]*deviceEntry)
		d.users[user] = devs
	}
	e, ok := devs[device.DeviceID]
	if !ok {
		e = &deviceEntry{}
		devs[device.DeviceID] = e
	}
	device.UserID = user
	e.device = device

	have := make(map[string]bool, len(e.keys))
	for _, k := range e.keys {
		have[k.KeyID] = true
	}
	for _, k := range keys {
		if !have[k.KeyID] {
			e.keys = append(e.keys, k)
		}
	}
}

// Claim pops the oldest key of device. ok is false when there is none.
func (d *Directory) Claim(user domain.UserID, device domain.DeviceID) (domain.ClaimedPrekey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.users[user][device]
	if !ok || len(e.keys) == 0 {
		return domain.ClaimedPrekey{}, false
	}
	k := e.keys[0]
	e.keys = e.keys[1:]
	return domain.ClaimedPrekey{KeyID: k.KeyID, PublicKey: k.PublicKey, Signature: k.Signature}, true
}

// Devices lists the devices published by user.
func (d *Directory) Devices(user domain.UserID) []domain.RecipientDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.RecipientDevice, 0, len(d.users[user]))
	for _, e := range d.users[user] {
		out = append(out, e.device)
	}
	return out
}

// Handler serves d:
//
//	POST /keys/upload
//	POST /keys/claim/{user}/{device}
//	GET  /devices/{user}
func Handler(d *Directory, log slog.Logger) http.Handler {
	if log == nil {
		log = slog.Disabled
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /keys/upload", func(w http.ResponseWriter, r *http.Request) {
		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Device.UserID == "" || req.Device.DeviceID == "" || req.Device.IdentityKey.IsZero() {
			http.Error(w, "device needs user_id, device_id and identity_key", http.StatusBadRequest)
			return
		}
		d.Upload(req.Device.UserID, req.Device, req.Keys)
		log.Infof("Stored %d one-time keys for %s/%s", len(req.Keys),
			req.Device.UserID, req.Device.DeviceID)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /keys/claim/{user}/{device}", func(w http.ResponseWriter, r *http.Request) {
		user, device := domain.UserID(r.PathValue("user")), domain.DeviceID(r.PathValue("device"))
		k, ok := d.Claim(user, device)
		if !ok {
			http.Error(w, "no one-time keys", http.StatusNotFound)
			return
		}
		log.Debugf("Handed out key %s of %s/%s", k.KeyID, user, device)
		writeJSON(w, k)
	})

	mux.HandleFunc("GET /devices/{user}", func(w http.ResponseWriter, r *http.Request) {
		devs := d.Devices(domain.UserID(r.PathValue("user")))
		if len(devs) == 0 {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		writeJSON(w, devs)
	})

	return accessLog(mux, log)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler, log slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Tracef("%s %s from %s: %d in %s", r.Method, r.URL.Path, r.RemoteAddr,
			sw.status, time.Since(start))
	})
}
