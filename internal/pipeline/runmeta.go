package pipeline

import (
	"log"
	"time"
)

type stepEntry struct {
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
	Detail    string `json:"detail,omitempty"`
}

// RecordStep upserts one step's state in run_meta.json. Meta is advisory;
// failures are logged and never fail the run.
func (p Paths) RecordStep(step, status, detail string) {
	meta := map[string]stepEntry{}
	if err := readJSON(p.RunMeta(), &meta); err != nil {
		meta = map[string]stepEntry{}
	}
	meta[step] = stepEntry{
		Status:    status,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Detail:    detail,
	}
	if err := writeJSON(p.RunMeta(), meta); err != nil {
		log.Printf("Warning: could not record run meta: %v", err)
	}
}
