package delivery

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps user id -> device id -> live channel.
type Registry struct {
	mu     sync.Mutex
	users  map[int64]map[string]*Channel
	buffer int
	log    zerolog.Logger
}

// Stats is a point-in-time view for the admin status payload.
type Stats struct {
	Users    int `json:"users"`
	Channels int `json:"channels"`
}

func NewRegistry(buffer int, log zerolog.Logger) *Registry {
	return &Registry{
		users:  map[int64]map[string]*Channel{},
		buffer: buffer,
		log:    log,
	}
}

// Connect installs a fresh channel for (userID, deviceID) and returns it.
// A prior channel for the same device is closed first, displacing its
// consumer before the new channel is visible to Publish.
func (r *Registry) Connect(userID int64, deviceID string) *Channel {
	ch := newChannel(r.buffer)

	r.mu.Lock()
	devices := r.users[userID]
	if devices == nil {
		devices = map[string]*Channel{}
		r.users[userID] = devices
	}
	old := devices[deviceID]
	devices[deviceID] = ch
	r.mu.Unlock()

	if old != nil {
		old.Close()
		r.log.Debug().Int64("user", userID).Str("device", deviceID).Msg("displaced existing channel")
	}
	return ch
}

// Disconnect removes ch from the registry and closes it. The channel must
// match what is currently registered for the device: a consumer that was
// displaced by a newer Connect releases only its own channel, not the
// replacement. The user entry is pruned once its last device is gone.
func (r *Registry) Disconnect(userID int64, deviceID string, ch *Channel) {
	r.mu.Lock()
	devices := r.users[userID]
	if devices[deviceID] == ch && ch != nil {
		delete(devices, deviceID)
		if len(devices) == 0 {
			delete(r.users, userID)
		}
	}
	r.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Publish enqueues e onto every channel currently registered for userID and
// returns how many channels accepted it. No-op for users with no devices.
// Sends happen outside the registry lock so a slow consumer only stalls its
// own channel.
func (r *Registry) Publish(userID int64, e Event) int {
	r.mu.Lock()
	devices := r.users[userID]
	chs := make([]*Channel, 0, len(devices))
	for _, ch := range devices {
		chs = append(chs, ch)
	}
	r.mu.Unlock()

	n := 0
	for _, ch := range chs {
		if ch.Send(e) {
			n++
		}
	}
	return n
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Users: len(r.users)}
	for _, devices := range r.users {
		st.Channels += len(devices)
	}
	return st
}
