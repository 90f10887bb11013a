package assemble

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Split names.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// DatasetName and DatasetVersion identify the manifest format.
const (
	DatasetName    = "hearalert_training_dataset"
	DatasetVersion = 1
)

// CutPoints returns the exclusive ends of the train and validation ranges
// for a category of n clips: floor(0.8n) and floor(0.9n). The remainder is
// test.
func CutPoints(n int) (trainEnd, valEnd int) {
	trainEnd = n * 8 / 10
	valEnd = n * 9 / 10
	return trainEnd, valEnd
}

// Item is one manifest entry.
type Item struct {
	File       string `json:"file" yaml:"file"`
	Category   string `json:"category" yaml:"category"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

// SplitCounts holds per-split clip counts.
type SplitCounts struct {
	Train      int `json:"train" yaml:"train"`
	Validation int `json:"validation" yaml:"validation"`
	Test       int `json:"test" yaml:"test"`
}

// Total returns the sum of all splits.
func (s SplitCounts) Total() int {
	return s.Train + s.Validation + s.Test
}

// CategoryStats is the per-category block of the manifest metadata.
type CategoryStats struct {
	Name            string      `json:"name" yaml:"name"`
	DisplayName     string      `json:"display_name" yaml:"display_name"`
	Count           int         `json:"count" yaml:"count"`
	Priority        int         `json:"priority" yaml:"priority"`
	AlertType       string      `json:"alert_type" yaml:"alert_type"`
	TotalDurationMS int64       `json:"total_duration_ms" yaml:"total_duration_ms"`
	MeanDurationMS  float64     `json:"mean_duration_ms" yaml:"mean_duration_ms"`
	TotalSizeBytes  int64       `json:"total_size_bytes" yaml:"total_size_bytes"`
	SampleRates     map[int]int `json:"sample_rates" yaml:"sample_rates"`
	Duplicates      int         `json:"duplicates_removed" yaml:"duplicates_removed"`
	Splits          SplitCounts `json:"splits" yaml:"splits"`
	Bands           BandProfile `json:"band_energy" yaml:"band_energy"`
}

// BandProfile is the mean share of clip energy below 500 Hz, from 500 Hz to
// 2 kHz, and above 2 kHz. Analyzed counts the clips that could be decoded.
type BandProfile struct {
	Low      float64 `json:"low" yaml:"low"`
	Mid      float64 `json:"mid" yaml:"mid"`
	High     float64 `json:"high" yaml:"high"`
	Analyzed int     `json:"analyzed" yaml:"analyzed"`
}

// Metadata is the manifest header.
type Metadata struct {
	Name       string          `json:"name" yaml:"name"`
	Version    int             `json:"version" yaml:"version"`
	Created    time.Time       `json:"created" yaml:"created"`
	RunID      string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Seed       uint64          `json:"seed" yaml:"seed"`
	TotalFiles int             `json:"total_files" yaml:"total_files"`
	Categories []CategoryStats `json:"categories" yaml:"categories"`
}

// Splits holds the three ordered split lists.
type Splits struct {
	Train      []Item `json:"train"`
	Validation []Item `json:"validation"`
	Test       []Item `json:"test"`
}

// Manifest is the dataset description handed to the trainer.
type Manifest struct {
	Metadata Metadata `json:"metadata"`
	Splits   Splits   `json:"splits"`
}

// Counts returns the size of each split.
func (m *Manifest) Counts() SplitCounts {
	return SplitCounts{
		Train:      len(m.Splits.Train),
		Validation: len(m.Splits.Validation),
		Test:       len(m.Splits.Test),
	}
}

// WriteJSON writes the manifest as indented JSON.
func (m *Manifest) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes a manifest written by WriteJSON.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// TrainingConfig is the YAML document consumed by the training job.
type TrainingConfig struct {
	Training   TrainingBlock               `yaml:"training_config"`
	Dataset    Metadata                    `yaml:"dataset"`
	Categories map[string]TrainingCategory `yaml:"categories"`
	Splits     SplitCounts                 `yaml:"splits"`
}

// TrainingBlock holds model, audio and optimizer settings.
type TrainingBlock struct {
	Name      string            `yaml:"name"`
	Version   int               `yaml:"version"`
	Model     ModelSettings     `yaml:"model"`
	Audio     AudioSettings     `yaml:"audio"`
	Optimizer OptimizerSettings `yaml:"training"`
}

type ModelSettings struct {
	Base             string `yaml:"base"`
	TransferLearning bool   `yaml:"transfer_learning"`
	FineTuneLayers   int    `yaml:"fine_tune_layers"`
}

// AudioSettings describes the windows the classifier is fed.
type AudioSettings struct {
	SampleRate int  `yaml:"sample_rate"`
	DurationMS int  `yaml:"duration_ms"`
	Channels   int  `yaml:"channels"`
	Normalize  bool `yaml:"normalize"`
}

type OptimizerSettings struct {
	Epochs        int           `yaml:"epochs"`
	BatchSize     int           `yaml:"batch_size"`
	LearningRate  float64       `yaml:"learning_rate"`
	EarlyStopping EarlyStopping `yaml:"early_stopping"`
}

type EarlyStopping struct {
	Patience int     `yaml:"patience"`
	MinDelta float64 `yaml:"min_delta"`
}

// TrainingCategory is the per-category entry of the training config.
type TrainingCategory struct {
	DisplayName string `yaml:"display_name"`
	FileCount   int    `yaml:"file_count"`
	Priority    int    `yaml:"priority"`
}

// DefaultTrainingBlock returns the classifier settings used for transfer
// learning on 1 s 16 kHz windows.
func DefaultTrainingBlock() TrainingBlock {
	return TrainingBlock{
		Name:    "hearalert_audio_classifier",
		Version: 1,
		Model: ModelSettings{
			Base:             "yamnet",
			TransferLearning: true,
			FineTuneLayers:   5,
		},
		Audio: AudioSettings{
			SampleRate: 16000,
			DurationMS: 1000,
			Channels:   1,
			Normalize:  true,
		},
		Optimizer: OptimizerSettings{
			Epochs:        50,
			BatchSize:     32,
			LearningRate:  0.001,
			EarlyStopping: EarlyStopping{Patience: 10, MinDelta: 0.001},
		},
	}
}

// Training derives the training config from the manifest.
func (m *Manifest) Training() TrainingConfig {
	cfg := TrainingConfig{
		Training:   DefaultTrainingBlock(),
		Dataset:    m.Metadata,
		Categories: make(map[string]TrainingCategory, len(m.Metadata.Categories)),
		Splits:     m.Counts(),
	}
	for _, c := range m.Metadata.Categories {
		cfg.Categories[c.Name] = TrainingCategory{
			DisplayName: c.DisplayName,
			FileCount:   c.Count,
			Priority:    c.Priority,
		}
	}
	return cfg
}

// WriteTrainingYAML renders the training config.
func (m *Manifest) WriteTrainingYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Training()); err != nil {
		return fmt.Errorf("encode training config: %w", err)
	}
	return enc.Close()
}
