package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Store keeps scope captures on disk, one directory per capture holding
// metadata.json and signals.csv.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type Series struct {
	Key     string
	Samples []float64
}

type Capture struct {
	Circuit   string
	Rate      float64
	EndSample int64
	Series    []Series
	Settings  map[string]float64
}

type CaptureMetadata struct {
	ID        string             `json:"id"`
	Circuit   string             `json:"circuit"`
	Timestamp time.Time          `json:"timestamp"`
	Rate      float64            `json:"rate"`
	EndSample int64              `json:"end_sample"`
	Signals   []string           `json:"signals"`
	Length    int                `json:"length"`
	Settings  map[string]float64 `json:"settings"`
}

func (s *Store) Save(c Capture) (string, error) {
	now := time.Now()
	id := fmt.Sprintf("%s_%d", c.Circuit, now.UnixMilli())
	dir := filepath.Join(s.baseDir, id)
	for i := 1; ; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		id = fmt.Sprintf("%s_%d_%d", c.Circuit, now.UnixMilli(), i)
		dir = filepath.Join(s.baseDir, id)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	length := 0
	for _, sr := range c.Series {
		if len(sr.Samples) > length {
			length = len(sr.Samples)
		}
	}

	meta := CaptureMetadata{
		ID:        id,
		Circuit:   c.Circuit,
		Timestamp: now,
		Rate:      c.Rate,
		EndSample: c.EndSample,
		Length:    length,
		Settings:  c.Settings,
	}
	for _, sr := range c.Series {
		meta.Signals = append(meta.Signals, sr.Key)
	}

	metaFile, err := os.Create(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(dir, "signals.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	header := append([]string{"time"}, meta.Signals...)
	if err := w.Write(header); err != nil {
		return "", err
	}

	// series are right-aligned: every one ends at EndSample
	start := c.EndSample - int64(length)
	for i := 0; i < length; i++ {
		t := 0.0
		if c.Rate > 0 {
			t = float64(start+int64(i)) / c.Rate
		}
		row := []string{strconv.FormatFloat(t, 'f', 6, 64)}
		for _, sr := range c.Series {
			j := i - (length - len(sr.Samples))
			if j < 0 {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(sr.Samples[j], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return id, w.Error()
}

// List returns all captures, oldest first.
func (s *Store) List() ([]CaptureMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CaptureMetadata{}, nil
		}
		return nil, err
	}

	caps := make([]CaptureMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		caps = append(caps, *meta)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Timestamp.Before(caps[j].Timestamp) })
	return caps, nil
}

func (s *Store) Load(id string) (*CaptureMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta CaptureMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSeries reads the samples of a capture back, keyed by signal name.
// Missing leading values are skipped, so shorter series come back shorter.
func (s *Store) LoadSeries(id string) (map[string][]float64, []float64, error) {
	file, err := os.Open(filepath.Join(s.baseDir, id, "signals.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return map[string][]float64{}, []float64{}, nil
	}

	header := records[0]
	series := make(map[string][]float64, len(header)-1)
	times := make([]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		times = append(times, t)
		for j := 1; j < len(record) && j < len(header); j++ {
			if record[j] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				continue
			}
			series[header[j]] = append(series[header[j]], v)
		}
	}
	return series, times, nil
}
