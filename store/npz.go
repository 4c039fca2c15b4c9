package store

import (
	"archive/zip"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sergev/bci/script"
	"github.com/sergev/bci/trial"
)

// Members of a dataset archive. Trial matrices are stored one per
// member, since trials may differ in length. When all trials are full
// and equally long, they are also stacked into data.npy, so that
// data and labels load together as trials x channels x samples.
const (
	npzData         = "data.npy"
	npzLabels       = "labels.npy"
	npzShort        = "short.npy"
	npzExpected     = "expected.npy"
	npzBlock        = "block.npy"
	npzPhase        = "phase.npy"
	npzSubject      = "subject.npy"
	npzKind         = "kind.npy"
	npzRunID        = "run_id.npy"
	npzStartedAt    = "started_at.npy"
	npzSamplingRate = "sampling_rate.npy"
	npzChannels     = "channels.npy"
	npzBlocks       = "blocks_completed.npy"
)

// member is a named array of an archive
type member struct {
	name string
	a    *array
}

func trialMember(i int) string {
	return fmt.Sprintf("trial_%04d.npy", i)
}

// WriteNPZ writes the dataset as a NumPy archive, loadable with numpy.load()
func WriteNPZ(w io.Writer, data *trial.Dataset) error {
	n := len(data.Trials)
	labels := make([]int64, n)
	short := make([]bool, n)
	expected := make([]int64, n)
	block := make([]int64, n)
	phase := make([]string, n)
	for i, t := range data.Trials {
		labels[i] = int64(t.Label)
		short[i] = t.Short
		expected[i] = int64(t.Expected)
		block[i] = int64(t.Block)
		phase[i] = t.Phase
	}

	members := []member{
		{npzLabels, int64Array(labels)},
		{npzShort, boolArray(short)},
		{npzExpected, int64Array(expected)},
		{npzBlock, int64Array(block)},
		{npzPhase, stringArray([]int{n}, phase)},
		{npzSubject, stringArray(nil, []string{data.Subject})},
		{npzKind, stringArray(nil, []string{data.Kind})},
		{npzRunID, stringArray(nil, []string{data.RunID.String()})},
		{npzStartedAt, stringArray(nil, []string{data.StartedAt.Format(time.RFC3339Nano)})},
		{npzSamplingRate, float64Array(nil, []float64{data.SamplingRate})},
		{npzChannels, scalarInt(int64(data.Channels))},
		{npzBlocks, scalarInt(int64(data.BlocksCompleted))},
	}

	if a := stackedArray(data.Trials); a != nil {
		members = append(members, member{npzData, a})
	}

	zw := zip.NewWriter(w)
	for _, m := range members {
		if err := writeMember(zw, m.name, m.a); err != nil {
			return err
		}
	}
	for i, t := range data.Trials {
		if err := writeMember(zw, trialMember(i), trialArray(t)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func scalarInt(v int64) *array {
	a := int64Array([]int64{v})
	a.shape = nil
	return a
}

// trialArray lays out the samples as a channels x n matrix
func trialArray(t trial.Trial) *array {
	channels, n := len(t.Samples), t.Len()
	values := make([]float64, 0, channels*n)
	for _, row := range t.Samples {
		values = append(values, row[:n]...)
	}
	return float64Array([]int{channels, n}, values)
}

// stackedArray lays out the trials as a trials x channels x n array,
// or returns nil when some trial is short or the shapes differ
func stackedArray(trials []trial.Trial) *array {
	if len(trials) == 0 {
		return nil
	}
	channels, n := len(trials[0].Samples), trials[0].Len()
	for _, t := range trials {
		if t.Short || len(t.Samples) != channels || t.Len() != n {
			return nil
		}
		for _, row := range t.Samples {
			if len(row) != n {
				return nil
			}
		}
	}
	values := make([]float64, 0, len(trials)*channels*n)
	for _, t := range trials {
		for _, row := range t.Samples {
			values = append(values, row...)
		}
	}
	return float64Array([]int{len(trials), channels, n}, values)
}

func writeMember(zw *zip.Writer, name string, a *array) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if err := writeNPY(w, a); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// ReadNPZ reads a dataset written by WriteNPZ
func ReadNPZ(r io.ReaderAt, size int64) (*trial.Dataset, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	arrays := make(map[string]*array, len(zr.File))
	for _, f := range zr.File {
		a, err := readMember(f)
		if err != nil {
			return nil, err
		}
		arrays[f.Name] = a
	}
	get := func(name string) (*array, error) {
		a, ok := arrays[name]
		if !ok {
			return nil, fmt.Errorf("archive has no %s", name)
		}
		return a, nil
	}

	data := &trial.Dataset{}
	if err := readText(get, npzSubject, &data.Subject); err != nil {
		return nil, err
	}
	if err := readText(get, npzKind, &data.Kind); err != nil {
		return nil, err
	}
	var runID, startedAt string
	if err := readText(get, npzRunID, &runID); err != nil {
		return nil, err
	}
	if data.RunID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	if err := readText(get, npzStartedAt, &startedAt); err != nil {
		return nil, err
	}
	if data.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("invalid start time %q: %w", startedAt, err)
	}
	a, err := get(npzSamplingRate)
	if err != nil {
		return nil, err
	}
	rate, err := a.floats()
	if err != nil || len(rate) != 1 {
		return nil, fmt.Errorf("invalid %s", npzSamplingRate)
	}
	data.SamplingRate = rate[0]
	channels, err := readInts(get, npzChannels)
	if err != nil || len(channels) != 1 {
		return nil, fmt.Errorf("invalid %s", npzChannels)
	}
	data.Channels = int(channels[0])
	blocks, err := readInts(get, npzBlocks)
	if err != nil || len(blocks) != 1 {
		return nil, fmt.Errorf("invalid %s", npzBlocks)
	}
	data.BlocksCompleted = int(blocks[0])

	labels, err := readInts(get, npzLabels)
	if err != nil {
		return nil, err
	}
	expected, err := readInts(get, npzExpected)
	if err != nil {
		return nil, err
	}
	block, err := readInts(get, npzBlock)
	if err != nil {
		return nil, err
	}
	a, err = get(npzShort)
	if err != nil {
		return nil, err
	}
	short, err := a.bools()
	if err != nil {
		return nil, err
	}
	a, err = get(npzPhase)
	if err != nil {
		return nil, err
	}
	phase, err := a.texts()
	if err != nil {
		return nil, err
	}
	n := len(labels)
	if len(short) != n || len(expected) != n || len(block) != n || len(phase) != n {
		return nil, fmt.Errorf("inconsistent trial metadata: %d labels, %d short flags, %d expected, %d blocks, %d phases",
			n, len(short), len(expected), len(block), len(phase))
	}

	for i := 0; i < n; i++ {
		a, err := get(trialMember(i))
		if err != nil {
			return nil, err
		}
		samples, err := matrix(a)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", trialMember(i), err)
		}
		label := script.Label(labels[i])
		if !label.Valid() {
			return nil, fmt.Errorf("trial %d has invalid label: %d", i, labels[i])
		}
		data.Add(trial.Trial{
			Label:    label,
			Samples:  samples,
			Short:    short[i],
			Expected: int(expected[i]),
			Phase:    phase[i],
			Block:    int(block[i]),
		})
	}
	return data, nil
}

func readMember(f *zip.File) (*array, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	a, err := readNPY(rc, int64(min(f.UncompressedSize64, math.MaxInt64)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return a, nil
}

func readText(get func(string) (*array, error), name string, dst *string) error {
	a, err := get(name)
	if err != nil {
		return err
	}
	values, err := a.texts()
	if err != nil || len(values) != 1 {
		return fmt.Errorf("invalid %s", name)
	}
	*dst = values[0]
	return nil
}

func readInts(get func(string) (*array, error), name string) ([]int64, error) {
	a, err := get(name)
	if err != nil {
		return nil, err
	}
	return a.ints()
}

// matrix splits a channels x n array into rows
func matrix(a *array) ([][]float64, error) {
	if len(a.shape) != 2 {
		return nil, fmt.Errorf("expected 2 dimensions, got %d", len(a.shape))
	}
	values, err := a.floats()
	if err != nil {
		return nil, err
	}
	channels, n := a.shape[0], a.shape[1]
	if channels*n != len(values) || (n != 0 && len(values)/n != channels) {
		return nil, fmt.Errorf("shape %s does not match %d values", formatShape(a.shape), len(values))
	}
	rows := make([][]float64, channels)
	for ch := range rows {
		rows[ch] = append(make([]float64, 0, n), values[ch*n:(ch+1)*n]...)
	}
	return rows, nil
}
