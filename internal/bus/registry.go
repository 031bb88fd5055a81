package bus

import "time"

// Registry aggregates the per-cycle status of every registered channel.
type Registry struct {
	channels []Channel
}

// Add registers a channel. Channels are polled in registration order.
func (r *Registry) Add(c Channel) {
	r.channels = append(r.channels, c)
}

// PollAll polls every channel once and returns their statuses keyed by name.
func (r *Registry) PollAll(now time.Time) map[string]Status {
	out := make(map[string]Status, len(r.channels))
	for _, c := range r.channels {
		out[c.Name()] = c.Poll(now)
	}
	return out
}

// AllEverReceived reports whether every registered channel has delivered at
// least one sample. Used for the pre-engagement availability check.
func AllEverReceived(statuses map[string]Status) bool {
	for _, st := range statuses {
		if !st.Ever {
			return false
		}
	}
	return true
}
