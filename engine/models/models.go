// Package models defines the persisted entities shared by every ingestion
// component: events, results, checkpoints, provenance, athletes, scrape
// jobs, and monitored endpoints.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceType classifies an EventDistance for checkpoint-taxonomy purposes.
type RaceType string

const (
	RaceTypeRunning   RaceType = "running"
	RaceTypeTriathlon RaceType = "triathlon"
	RaceTypeDuathlon  RaceType = "duathlon"
	RaceTypeUltra     RaceType = "ultra"
	RaceTypeRelay     RaceType = "relay"
)

// ResultStatus is the finishing status of a RaceResult.
type ResultStatus string

const (
	ResultStatusFinished ResultStatus = "finished"
	ResultStatusDNF      ResultStatus = "dnf"
	ResultStatusDNS      ResultStatus = "dns"
	ResultStatusDQ       ResultStatus = "dq"
)

// CheckpointType classifies a TimingCheckpoint.
type CheckpointType string

const (
	CheckpointTypeDistance   CheckpointType = "distance"
	CheckpointTypeTransition CheckpointType = "transition"
	CheckpointTypeDiscipline CheckpointType = "discipline"
)

// EventLinkKind classifies an EventSourceLink relationship.
type EventLinkKind string

const (
	EventLinkSameEvent EventLinkKind = "same_event"
	EventLinkRelated   EventLinkKind = "related"
	EventLinkSeries    EventLinkKind = "series"
)

// ScrapeJobStatus is the lifecycle state of a ScrapeJob.
type ScrapeJobStatus string

const (
	ScrapeJobPending   ScrapeJobStatus = "pending"
	ScrapeJobRunning   ScrapeJobStatus = "running"
	ScrapeJobCompleted ScrapeJobStatus = "completed"
	ScrapeJobFailed    ScrapeJobStatus = "failed"
)

// EndpointStatus is the canonical status token of the endpoint state machine.
type EndpointStatus string

const (
	EndpointStatusUnknown EndpointStatus = "unknown"
	EndpointStatusUp      EndpointStatus = "up"
	EndpointStatusDown    EndpointStatus = "down"
)

// Event is identified by URL (unique) and is immutable except for Metadata.
type Event struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	URL        string                 `db:"url" json:"url"`
	Organiser  string                 `db:"organiser" json:"organiser"`
	Name       string                 `db:"name" json:"name"`
	Date       time.Time              `db:"date" json:"date"`
	Location   string                 `db:"location" json:"location,omitempty"`
	Metadata   map[string]interface{} `db:"-" json:"metadata,omitempty"`
	ScrapedAt  time.Time              `db:"scraped_at" json:"scraped_at"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}

// EventDistance is a named distance within an Event, unique by (event, name).
type EventDistance struct {
	ID                uuid.UUID `db:"id" json:"id"`
	EventID           uuid.UUID `db:"event_id" json:"event_id"`
	Name              string    `db:"name" json:"name"`
	DistanceMeters    int       `db:"distance_meters" json:"distance_meters"`
	RaceType          RaceType  `db:"race_type" json:"race_type"`
	ExpectedCheckpoints []string `db:"-" json:"expected_checkpoints,omitempty"`
	ParticipantCount  int       `db:"participant_count" json:"participant_count"`
}

// RaceResult is one athlete's finish in one Event, optionally scoped to an
// EventDistance.
type RaceResult struct {
	ID                 uuid.UUID              `db:"id" json:"id"`
	EventID            uuid.UUID              `db:"event_id" json:"event_id"`
	EventDistanceID    *uuid.UUID             `db:"event_distance_id" json:"event_distance_id,omitempty"`
	Position           *int                   `db:"position" json:"position,omitempty"`
	Bib                string                 `db:"bib" json:"bib,omitempty"`
	Name               string                 `db:"name" json:"name"`
	NormalisedName     string                 `db:"normalised_name" json:"normalised_name"`
	Gender             string                 `db:"gender" json:"gender,omitempty"`
	Category           string                 `db:"category" json:"category,omitempty"`
	FinishTime         string                 `db:"finish_time" json:"finish_time,omitempty"`
	GunTime            string                 `db:"gun_time" json:"gun_time,omitempty"`
	ChipTime           string                 `db:"chip_time" json:"chip_time,omitempty"`
	Pace               string                 `db:"pace" json:"pace,omitempty"`
	GenderPosition     *int                   `db:"gender_position" json:"gender_position,omitempty"`
	CategoryPosition   *int                   `db:"category_position" json:"category_position,omitempty"`
	Country            string                 `db:"country" json:"country,omitempty"`
	Club               string                 `db:"club" json:"club,omitempty"`
	Age                *int                   `db:"age" json:"age,omitempty"`
	Status             ResultStatus           `db:"status" json:"status"`
	TimeBehind         string                 `db:"time_behind" json:"time_behind,omitempty"`
	AthleteID          *uuid.UUID             `db:"athlete_id" json:"athlete_id,omitempty"`
	Validation         map[string]interface{} `db:"-" json:"validation,omitempty"`
	Metadata           map[string]interface{} `db:"-" json:"metadata,omitempty"`
	Checkpoints        []TimingCheckpoint     `db:"-" json:"checkpoints,omitempty"`
}

// Validate enforces the RaceResult invariants from the data model spec.
func (r *RaceResult) Validate() error {
	if r.Name == "" {
		return &DomainError{Kind: KindValidation, Message: "race result name must not be empty"}
	}
	if r.Position != nil && *r.Position <= 0 {
		return &DomainError{Kind: KindValidation, Message: "race result position must be positive"}
	}
	if r.Status == "" {
		r.Status = ResultStatusFinished
	}
	return nil
}

// TimingCheckpoint is a timing point attached to a RaceResult, unique within
// the result by Name.
type TimingCheckpoint struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	RaceResultID       uuid.UUID      `db:"race_result_id" json:"race_result_id"`
	CheckpointType     CheckpointType `db:"checkpoint_type" json:"checkpoint_type"`
	Name               string         `db:"name" json:"name"`
	Order              int            `db:"checkpoint_order" json:"order"`
	SplitTime          string         `db:"split_time" json:"split_time,omitempty"`
	CumulativeTime     string         `db:"cumulative_time" json:"cumulative_time,omitempty"`
	CumulativeSeconds  float64        `db:"cumulative_seconds" json:"cumulative_seconds"`
	Pace               string         `db:"pace" json:"pace,omitempty"`
	SegmentMeters      int            `db:"segment_meters" json:"segment_meters,omitempty"`
}

// ResultSource is a provenance record for a RaceResult.
type ResultSource struct {
	ID             uuid.UUID `db:"id" json:"id"`
	RaceResultID   uuid.UUID `db:"race_result_id" json:"race_result_id"`
	Organiser      string    `db:"organiser" json:"organiser"`
	SourceURL      string    `db:"source_url" json:"source_url"`
	ScrapedAt      time.Time `db:"scraped_at" json:"scraped_at"`
	FieldsProvided []string  `db:"-" json:"fields_provided,omitempty"`
	Confidence     int       `db:"confidence" json:"confidence"`
	Primary        bool      `db:"is_primary" json:"is_primary"`
}

// EventSourceLink asserts that two Events represent the same real-world
// event (or a related/series grouping).
type EventSourceLink struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	EventAID   uuid.UUID     `db:"event_a_id" json:"event_a_id"`
	EventBID   uuid.UUID     `db:"event_b_id" json:"event_b_id"`
	Kind       EventLinkKind `db:"kind" json:"kind"`
	Confidence int           `db:"confidence" json:"confidence"`
}

// Validate enforces the anti-self-reference invariant.
func (l *EventSourceLink) Validate() error {
	if l.EventAID == l.EventBID {
		return &DomainError{Kind: KindValidation, Message: "event source link cannot self-reference"}
	}
	return nil
}

// Athlete is an identity record that RaceResults may link to.
type Athlete struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DisplayName    string     `db:"display_name" json:"display_name"`
	NormalisedName string     `db:"normalised_name" json:"normalised_name"`
	Gender         string     `db:"gender" json:"gender,omitempty"`
	BirthDate      *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Country        string     `db:"country" json:"country,omitempty"`
	ExternalUserID *string    `db:"external_user_id" json:"external_user_id,omitempty"`
}

// AthleteFollow is a directed, unique, non-self relation.
type AthleteFollow struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FollowerID  uuid.UUID `db:"follower_id" json:"follower_id"`
	FollowingID uuid.UUID `db:"following_id" json:"following_id"`
}

// Validate enforces the non-self invariant for follows.
func (f *AthleteFollow) Validate() error {
	if f.FollowerID == f.FollowingID {
		return &DomainError{Kind: KindValidation, Message: "athlete cannot follow itself"}
	}
	return nil
}

// RetrySchedule is the fixed exponential backoff schedule from spec §4.7.
var RetrySchedule = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}

// DefaultMaxRetries is the default ScrapeJob.MaxRetries value.
const DefaultMaxRetries = 3

// ScrapeJob tracks one ingestion attempt for an event URL.
type ScrapeJob struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Organiser          string          `db:"organiser" json:"organiser"`
	EventURL           string          `db:"event_url" json:"event_url"`
	Status             ScrapeJobStatus `db:"status" json:"status"`
	ResultsCount       int             `db:"results_count" json:"results_count"`
	ErrorMessage       string          `db:"error_message" json:"error_message,omitempty"`
	RetryCount         int             `db:"retry_count" json:"retry_count"`
	MaxRetries         int             `db:"max_retries" json:"max_retries"`
	NextRetryAt        *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	NotificationSent   bool            `db:"notification_sent" json:"notification_sent"`
	Version            int             `db:"version" json:"version"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// ShortID returns the first 8 characters of the job's UUID, used in
// notification payloads per spec §6.
func (j *ScrapeJob) ShortID() string {
	s := j.ID.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// ScheduleRetry applies the exponential backoff schedule of spec §4.7,
// returning true if another retry was scheduled.
func (j *ScrapeJob) ScheduleRetry(now time.Time, errMsg string) bool {
	j.Status = ScrapeJobFailed
	j.ErrorMessage = truncate(errMsg, 100)
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
	if j.RetryCount < j.MaxRetries {
		delay := RetrySchedule[minInt(j.RetryCount, len(RetrySchedule)-1)]
		next := now.Add(delay)
		j.NextRetryAt = &next
		return true
	}
	j.NextRetryAt = nil
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MonitoredEndpoint is a URL to probe for liveness.
type MonitoredEndpoint struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	Organiser           string    `db:"organiser" json:"organiser"`
	Name                string    `db:"name" json:"name"`
	URL                 string    `db:"url" json:"url"`
	Enabled             bool      `db:"enabled" json:"enabled"`
	CheckIntervalMinutes int      `db:"check_interval_minutes" json:"check_interval_minutes"`
}

// EndpointStatusCurrent is the latest known status of a MonitoredEndpoint.
type EndpointStatusCurrent struct {
	EndpointID         uuid.UUID      `db:"endpoint_id" json:"endpoint_id"`
	Status             EndpointStatus `db:"status" json:"status"`
	HTTPCode           int            `db:"http_code" json:"http_code,omitempty"`
	ResponseTimeMs     int64          `db:"response_time_ms" json:"response_time_ms"`
	HasResults         bool           `db:"has_results" json:"has_results"`
	LastChecked        time.Time      `db:"last_checked" json:"last_checked"`
	LastStatusChange   time.Time      `db:"last_status_change" json:"last_status_change"`
	ConsecutiveFailures int           `db:"consecutive_failures" json:"consecutive_failures"`
}

// EndpointStatusHistory is an append-only probe log entry.
type EndpointStatusHistory struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	EndpointID     uuid.UUID      `db:"endpoint_id" json:"endpoint_id"`
	Status         EndpointStatus `db:"status" json:"status"`
	HTTPCode       int            `db:"http_code" json:"http_code,omitempty"`
	ResponseTimeMs int64          `db:"response_time_ms" json:"response_time_ms"`
	HasResults     bool           `db:"has_results" json:"has_results"`
	ErrorMessage   string         `db:"error_message" json:"error_message,omitempty"`
	CheckedAt      time.Time      `db:"checked_at" json:"checked_at"`
}

// ScrapeMetadata describes the circumstances of one scrape attempt.
type ScrapeMetadata struct {
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
	TotalPages          int       `json:"total_pages"`
	TotalResults        int       `json:"total_results"`
	UsedHeadlessBrowser bool      `json:"used_headless_browser"`
	Errors              []string  `json:"errors,omitempty"`
	Warnings            []string  `json:"warnings,omitempty"`
}

// ScrapedResults is the envelope a scraper produces for one event.
type ScrapedResults struct {
	Event     Event            `json:"event"`
	Distances []EventDistance  `json:"distances"`
	Results   []RaceResult     `json:"results"`
	Metadata  ScrapeMetadata   `json:"metadata"`
}
