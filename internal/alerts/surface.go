package alerts

import (
	"context"
	"encoding/json"
	"time"
)

// Waveforms understood by console tone players.
const (
	WaveSine     = "sine"
	WaveTriangle = "triangle"
	WaveSquare   = "square"
)

// Tone describes a synthesized alert sound; the client renders it.
type Tone struct {
	FrequencyHz float64
	Duration    time.Duration
	Waveform    string
}

func (t Tone) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		FrequencyHz float64 `json:"frequencyHz"`
		DurationMs  int64   `json:"durationMs"`
		Waveform    string  `json:"waveform"`
	}{t.FrequencyHz, t.Duration.Milliseconds(), t.Waveform})
}

// Pulse is a vibration pattern: on, off, on, ...
type Pulse []time.Duration

type Toaster interface {
	Toast(ctx context.Context, n Notification) error
}

type Sounder interface {
	Play(ctx context.Context, t Tone) error
}

type Haptics interface {
	Vibrate(ctx context.Context, p Pulse) error
}

// Surfaces groups the optional outputs; nil members are skipped.
type Surfaces struct {
	Toast   Toaster
	Sound   Sounder
	Haptics Haptics
}

// ToneFor picks the tone for a notification type.
func ToneFor(kind string) Tone {
	switch kind {
	case TypeOrder:
		return Tone{FrequencyHz: 880, Duration: 200 * time.Millisecond, Waveform: WaveSine}
	case TypeDelivery:
		return Tone{FrequencyHz: 660, Duration: 300 * time.Millisecond, Waveform: WaveTriangle}
	case TypeStock:
		return Tone{FrequencyHz: 440, Duration: 400 * time.Millisecond, Waveform: WaveSquare}
	}
	return Tone{FrequencyHz: 520, Duration: 150 * time.Millisecond, Waveform: WaveSine}
}

// PulseFor picks the vibration pattern for a notification type.
func PulseFor(kind string) Pulse {
	switch kind {
	case TypeOrder, TypeDelivery:
		return Pulse{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}
	case TypeStock:
		return Pulse{400 * time.Millisecond}
	}
	return Pulse{100 * time.Millisecond}
}
