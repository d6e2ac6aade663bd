package recording

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions supplies what a file format cannot carry itself.
type LoadOptions struct {
	// SamplingRate is required for CSV and overrides JSON/YAML when positive.
	SamplingRate float64
	// BadChannels are dropped after loading, in addition to any listed by a
	// YAML descriptor.
	BadChannels []string
}

// Extensions lists the file extensions Load understands.
func Extensions() []string {
	return []string{".json", ".csv", ".yaml", ".yml"}
}

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// Load reads a recording, choosing the format by file extension.
func Load(path string, opts LoadOptions) (*Recording, error) {
	var (
		rec *Recording
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		rec, err = loadJSONFile(path, opts.SamplingRate)
	case ".csv":
		rec, err = loadCSVFile(path, defaultName(path), opts.SamplingRate)
	case ".yaml", ".yml":
		rec, err = loadDescriptor(path, opts.SamplingRate)
	default:
		return nil, fmt.Errorf("unsupported recording format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return rec.DropChannels(opts.BadChannels)
}

func defaultName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

type jsonRecording struct {
	Name         string      `json:"name"`
	SamplingRate float64     `json:"sampling_rate"`
	Channels     []string    `json:"channels"`
	Samples      [][]float64 `json:"samples"`
	BadChannels  []string    `json:"bad_channels,omitempty"`
}

// DecodeJSON reads the channel-major JSON layout. rate overrides the encoded
// sampling rate when positive.
func DecodeJSON(r io.Reader, rate float64) (*Recording, error) {
	var payload jsonRecording
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode recording json: %w", err)
	}
	if rate > 0 {
		payload.SamplingRate = rate
	}
	rec, err := New(payload.Name, payload.Channels, payload.Samples, payload.SamplingRate)
	if err != nil {
		return nil, err
	}
	return rec.DropChannels(payload.BadChannels)
}

func loadJSONFile(path string, rate float64) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	rec, err := DecodeJSON(f, rate)
	if err != nil {
		return nil, err
	}
	if rec.Name() == "" {
		return New(defaultName(path), rec.channels, rec.samples, rec.samplingRate)
	}
	return rec, nil
}

// EncodeJSON writes rec in the layout DecodeJSON reads.
func EncodeJSON(w io.Writer, rec *Recording) error {
	return json.NewEncoder(w).Encode(jsonRecording{
		Name:         rec.name,
		SamplingRate: rec.samplingRate,
		Channels:     rec.channels,
		Samples:      rec.samples,
	})
}

// DecodeCSV reads a header row of channel names followed by one row per time
// sample.
func DecodeCSV(r io.Reader, name string, rate float64) (*Recording, error) {
	if !(rate > 0) {
		return nil, invalid("csv recordings need an explicit sampling rate")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	channels := make([]string, len(header))
	for i, h := range header {
		channels[i] = strings.TrimSpace(h)
	}
	rows := make([][]float64, len(channels))
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, invalid("line %d column %q: %v", line, channels[i], err)
			}
			rows[i] = append(rows[i], v)
		}
	}
	return New(name, channels, rows, rate)
}

func loadCSVFile(path, name string, rate float64) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return DecodeCSV(f, name, rate)
}

// Descriptor is the YAML sidecar that names a data file and its acquisition
// metadata.
type Descriptor struct {
	Name         string   `yaml:"name"`
	SamplingRate float64  `yaml:"sampling_rate"`
	Data         string   `yaml:"data"`
	BadChannels  []string `yaml:"bad_channels"`
}

// ReadDescriptor parses a YAML descriptor. Relative data paths resolve against
// the descriptor's directory.
func ReadDescriptor(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if desc.Data == "" {
		return Descriptor{}, invalid("descriptor %s has no data file", filepath.Base(path))
	}
	if !filepath.IsAbs(desc.Data) {
		desc.Data = filepath.Join(filepath.Dir(path), desc.Data)
	}
	if desc.Name == "" {
		desc.Name = defaultName(path)
	}
	return desc, nil
}

func loadDescriptor(path string, rate float64) (*Recording, error) {
	desc, err := ReadDescriptor(path)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		rate = desc.SamplingRate
	}
	var rec *Recording
	switch ext := strings.ToLower(filepath.Ext(desc.Data)); ext {
	case ".csv":
		rec, err = loadCSVFile(desc.Data, desc.Name, rate)
	case ".json":
		rec, err = loadJSONFile(desc.Data, rate)
		if err == nil {
			rec, err = New(desc.Name, rec.channels, rec.samples, rec.samplingRate)
		}
	default:
		return nil, fmt.Errorf("descriptor data %q: unsupported format %q", desc.Data, ext)
	}
	if err != nil {
		return nil, err
	}
	return rec.DropChannels(desc.BadChannels)
}
