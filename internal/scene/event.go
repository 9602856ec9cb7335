package scene

import "sort"

// Event types as they appear in serialized scenes.
const (
	EventUtterance = "utterance"
	EventPause     = "pause"
)

// Event is one placed element of a scene. Onset and Offset are sample
// indices; Channel is the 1-based speaker id (0 for pause scratch events);
// Filename is the corpus-relative audio path for utterance events.
type Event struct {
	Type     string `json:"type"`
	Onset    int    `json:"onset"`
	Offset   int    `json:"offset"`
	Channel  int    `json:"channel"`
	Filename string `json:"filename,omitempty"`
}

// Scene is a set of events keyed on full field equality. Adding an event
// identical in every field to an existing one collapses to a single entry.
type Scene map[Event]struct{}

func New() Scene { return make(Scene) }

func (s Scene) Add(e Event) { s[e] = struct{}{} }

func (s Scene) Clone() Scene {
	out := make(Scene, len(s))
	for e := range s {
		out[e] = struct{}{}
	}
	return out
}

// Union folds every event of other into s.
func (s Scene) Union(other Scene) {
	for e := range other {
		s[e] = struct{}{}
	}
}

// less orders events by onset, then offset, channel and filename. The order
// is total over distinct events, which keeps serialized scenes and the
// last-event query independent of map iteration order.
func less(a, b Event) bool {
	if a.Onset != b.Onset {
		return a.Onset < b.Onset
	}
	if a.Offset != b.Offset {
		return a.Offset < b.Offset
	}
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	return a.Filename < b.Filename
}

// Last returns the event with the greatest offset, breaking ties with the
// same total order used for serialization.
func (s Scene) Last() (Event, bool) {
	var last Event
	found := false
	for e := range s {
		if !found || e.Offset > last.Offset || (e.Offset == last.Offset && less(last, e)) {
			last = e
			found = true
		}
	}
	return last, found
}

// EndTime returns the maximum offset across the scene, 0 when empty.
func (s Scene) EndTime() int {
	last, ok := s.Last()
	if !ok {
		return 0
	}
	return last.Offset
}

// LastSpeaker returns the channel of the latest-ending event when that
// event carries speaker attribution, 0 otherwise.
func (s Scene) LastSpeaker() int {
	last, ok := s.Last()
	if !ok || last.Type != EventUtterance {
		return 0
	}
	return last.Channel
}

// Events returns the scene as a sorted slice.
func (s Scene) Events() []Event {
	out := make([]Event, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
