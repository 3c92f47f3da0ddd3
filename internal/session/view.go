package session

// View is everything a renderer needs to draw the current session.
type View struct {
	State         State  `json:"state"`
	CameraVisible bool   `json:"camera_visible"`
	Loading       bool   `json:"loading"`
	Countdown     int    `json:"countdown"`
	Prediction    string `json:"prediction,omitempty"`
	Summary       string `json:"summary,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	Error         string `json:"error,omitempty"`
	SessionID     string `json:"session_id,omitempty"`

	// Seq increases with every change. Observers may be called
	// concurrently, so a view with a lower Seq than one already seen is stale.
	Seq uint64 `json:"seq"`
}

// Newer reports whether v supersedes a view with sequence number seq.
// Views without a sequence number are always accepted.
func (v View) Newer(seq uint64) bool {
	return v.Seq == 0 || v.Seq > seq
}

// Observer receives a copy of the view after every change.
type Observer func(View)

type subscriber struct {
	id int
	fn Observer
}
