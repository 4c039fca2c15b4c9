package trial

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sergev/bci/script"
)

// ErrNoData is reported when a run ends without any trial
var ErrNoData = errors.New("no data collected")

// Dataset is the ordered collection of trials of one run
type Dataset struct {
	RunID           uuid.UUID
	Subject         string
	Kind            string // e.g. "training" or "test"
	SamplingRate    float64
	Channels        int
	StartedAt       time.Time
	Trials          []Trial
	BlocksCompleted int
}

// NewDataset creates an empty dataset for a new run
func NewDataset(subject, kind string, rate float64, channels int) *Dataset {
	return &Dataset{
		RunID:        uuid.New(),
		Subject:      subject,
		Kind:         kind,
		SamplingRate: rate,
		Channels:     channels,
		StartedAt:    time.Now(),
	}
}

// Add appends a trial in emission order
func (d *Dataset) Add(t Trial) {
	d.Trials = append(d.Trials, t)
}

// Labels returns the labels of all trials in order
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.Trials))
	for i, t := range d.Trials {
		labels[i] = int(t.Label)
	}
	return labels
}

// Count returns the number of trials with given label
func (d *Dataset) Count(label script.Label) int {
	n := 0
	for _, t := range d.Trials {
		if t.Label == label {
			n++
		}
	}
	return n
}

// ShortCount returns the number of short trials
func (d *Dataset) ShortCount() int {
	n := 0
	for _, t := range d.Trials {
		if t.Short {
			n++
		}
	}
	return n
}

// Check returns ErrNoData for a dataset without trials
func (d *Dataset) Check() error {
	if d == nil || len(d.Trials) == 0 {
		return ErrNoData
	}
	return nil
}

// Summary returns a one-line description, e.g.
// "4 trials (2 REST, 2 SWITCH)"
func (d *Dataset) Summary() string {
	s := fmt.Sprintf("%d trials (%d REST, %d SWITCH)",
		len(d.Trials), d.Count(script.Rest), d.Count(script.Switch))
	if n := d.ShortCount(); n > 0 {
		s += fmt.Sprintf(", %d short", n)
	}
	return s
}
