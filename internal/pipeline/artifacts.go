package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"morning-dispatch/internal/domain"
)

// Paths fixes the on-disk layout: artifacts under OutDir, the day marker and
// rolling state under StateDir.
type Paths struct {
	OutDir   string
	StateDir string
}

func (p Paths) RawMarket() string { return filepath.Join(p.OutDir, "raw_market.json") }
func (p Paths) RawEvents() string { return filepath.Join(p.OutDir, "raw_events.json") }
func (p Paths) Status() string    { return filepath.Join(p.OutDir, "etl_status.json") }
func (p Paths) RunMeta() string   { return filepath.Join(p.OutDir, "run_meta.json") }

func (p Paths) Marker(day string) string {
	return filepath.Join(p.StateDir, "fetch_"+day)
}

// CachedComplete reports whether a prior run for day finished durably: the
// marker alone is not trusted, all three artifacts must exist and the status
// report must carry the same day. Anything less means a partial run that
// should be redone.
func (p Paths) CachedComplete(day string) bool {
	if !fileExists(p.Marker(day)) {
		return false
	}
	for _, path := range []string{p.RawMarket(), p.RawEvents(), p.Status()} {
		if !fileExists(path) {
			return false
		}
	}
	var report domain.RunStatusReport
	if err := readJSON(p.Status(), &report); err != nil {
		return false
	}
	return report.Date == day
}

// TouchMarker writes the day sentinel. It must be the last durable action of
// a run.
func (p Paths) TouchMarker(day string) error {
	if err := os.MkdirAll(p.StateDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.Marker(day), nil, 0o644)
}

// PreviousMarket loads the prior day's merged document for stale fallbacks.
func (p Paths) PreviousMarket() (domain.MarketDocument, bool) {
	var doc domain.MarketDocument
	if err := readJSON(p.RawMarket(), &doc); err != nil {
		return domain.MarketDocument{}, false
	}
	return doc, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// writeJSON persists atomically: temp file in the target directory, then
// rename. Readers never observe a half-written artifact.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
