package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	reset()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.TickSeconds != 60 {
		t.Errorf("tick_seconds = %d, want 60", cfg.Scheduler.TickSeconds)
	}
	if cfg.Matching.ThresholdLow != 0.50 || cfg.Matching.ThresholdMedium != 0.65 || cfg.Matching.ThresholdHigh != 0.85 {
		t.Errorf("thresholds = %.2f/%.2f/%.2f, want 0.50/0.65/0.85",
			cfg.Matching.ThresholdLow, cfg.Matching.ThresholdMedium, cfg.Matching.ThresholdHigh)
	}
	if cfg.Detection.ChunkSize != 50 || cfg.Detection.MaxChunks != 4 {
		t.Errorf("detection = (%d, %d), want (50, 4)", cfg.Detection.ChunkSize, cfg.Detection.MaxChunks)
	}
	if cfg.Crawl.BatchSize != 500 {
		t.Errorf("crawl batch_size = %d, want 500", cfg.Crawl.BatchSize)
	}
}

func TestValidateRejectsUnorderedThresholds(t *testing.T) {
	cfg := &Config{
		Matching:  Matching{ThresholdLow: 0.7, ThresholdMedium: 0.65, ThresholdHigh: 0.85},
		Scheduler: Scheduler{TickSeconds: 60},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for low >= medium")
	}
}

func TestValidateRejectsNonPositiveTick(t *testing.T) {
	cfg := &Config{
		Matching:  Matching{ThresholdLow: 0.5, ThresholdMedium: 0.65, ThresholdHigh: 0.85},
		Scheduler: Scheduler{TickSeconds: 0},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for zero tick")
	}
}
