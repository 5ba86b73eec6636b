package synth

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"github.com/cantabile-labs/cantabile-core/internal/label"
	"github.com/cantabile-labs/cantabile-core/internal/vocoder"
)

// Artifacts lists the files emitted by one synthesis run. All share the
// wav path's stem.
type Artifacts struct {
	WavPath    string
	TimingPath string
	F0Path     string
	MGCPath    string
	BAPPath    string
}

// writeArtifacts emits the timing file, the three raw feature dumps and
// the wav. Writes are independent and non-transactional: a failure
// aborts the run without rolling back files already written.
func writeArtifacts(bundle *vocoder.Bundle, samples []float32, tl label.Timeline, outWavPath string, sampleRate int) (Artifacts, error) {
	stem := strings.TrimSuffix(outWavPath, filepath.Ext(outWavPath))
	art := Artifacts{
		WavPath:    outWavPath,
		TimingPath: stem + "_timing.lab",
		F0Path:     stem + ".f0",
		MGCPath:    stem + ".mgc",
		BAPPath:    stem + ".bap",
	}

	if dir := filepath.Dir(outWavPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return art, fmt.Errorf("create output dir: %w", err)
		}
	}

	if err := writeTiming(art.TimingPath, tl); err != nil {
		return art, err
	}
	if err := writeFloat64(art.F0Path, bundle.F0); err != nil {
		return art, err
	}
	if err := writeFloat64(art.MGCPath, flatten(bundle.MGC)); err != nil {
		return art, err
	}
	if err := writeFloat64(art.BAPPath, flatten(bundle.BAP)); err != nil {
		return art, err
	}
	if err := writeWav(art.WavPath, samples, sampleRate); err != nil {
		return art, err
	}
	return art, nil
}

// writeTiming emits one line per label entry: start, end and the core
// phoneme stripped of its left/right context.
func writeTiming(path string, tl label.Timeline) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create timing file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range tl {
		if _, err := fmt.Fprintf(w, "%d %d %s\n", e.Start, e.End, label.CorePhoneme(e.Context)); err != nil {
			return fmt.Errorf("write timing file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write timing file: %w", err)
	}
	return nil
}

// writeFloat64 dumps values as raw little-endian float64, no header, no
// length prefix. Consumers must know the shape out-of-band.
func writeFloat64(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, values); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func flatten(rows [][]float64) []float64 {
	n := 0
	for _, row := range rows {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// writeWav emits mono 32-bit IEEE float PCM at the configured rate.
func writeWav(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 32, 1, 3)
	for _, s := range samples {
		if err := enc.WriteFrame(s); err != nil {
			return fmt.Errorf("write wav: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
