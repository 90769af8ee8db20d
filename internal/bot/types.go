// Package bot defines the harvest and dispatch pipeline shared across subsystems.
package bot

import "time"

// Outcome classifies the result of extracting one posting detail page.
type Outcome string

// Outcome values tallied per harvest cycle.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeNoContact Outcome = "no_contact"
	OutcomeError     Outcome = "error"
)

// ApplicationStatus records how a dispatch attempt ended.
type ApplicationStatus string

// Application status values persisted in the ledger.
const (
	StatusSent   ApplicationStatus = "sent"
	StatusFailed ApplicationStatus = "failed"
)

// JobRecord is one harvested, filtered posting carrying a contact email.
// Records are immutable once built; the harvester hands them to the
// dispatcher by value and nothing mutates them afterwards.
type JobRecord struct {
	JobID     string `json:"job_id"`
	Title     string `json:"title"`
	Company   string `json:"company"`
	Email     string `json:"email"`
	SourceURL string `json:"source_url"`
	Location  string `json:"location"`
}

// DetailResult is the classified outcome of one detail page visit.
type DetailResult struct {
	Outcome Outcome
	Record  JobRecord // set only when Outcome is OutcomeSuccess
	Reason  string    // set for filtered and error outcomes
}

// ApplicationRecord is one ledger row: a single dispatch attempt, sent or failed.
type ApplicationRecord struct {
	JobID     string
	JobTitle  string
	Company   string
	Email     string
	AppliedAt time.Time
	Status    ApplicationStatus
}

// HarvestStats tallies per-outcome counts for one harvest cycle.
type HarvestStats struct {
	URLsFound  int `json:"urls_found"`
	Pages      int `json:"pages"`
	Success    int `json:"success"`
	Filtered   int `json:"filtered"`
	NoContact  int `json:"no_contact"`
	Errors     int `json:"errors"`
	Duplicates int `json:"duplicates"`
}

// DispatchStats tallies one dispatch loop run.
type DispatchStats struct {
	Found        int  `json:"found"`
	Sent         int  `json:"sent"`
	Failed       int  `json:"failed"`
	SkippedJob   int  `json:"skipped_job"`
	SkippedEmail int  `json:"skipped_email"`
	CapReached   bool `json:"cap_reached"`
}

// CycleReport summarizes one full harvest+dispatch cycle.
type CycleReport struct {
	CycleID  string        `json:"cycle_id"`
	Started  time.Time     `json:"started_at"`
	Finished time.Time     `json:"finished_at"`
	Harvest  HarvestStats  `json:"harvest"`
	Dispatch DispatchStats `json:"dispatch"`
}
