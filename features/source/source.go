package source

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vitae/internal/config"
	"vitae/internal/middleware"
	"vitae/internal/worker"
)

// ErrDuplicate is returned when a record with identical content already
// exists.
var ErrDuplicate = errors.New("duplicate source")

// Source is a canonical career record: one job, project, education
// entry, certification or bio. Sources are never embedded directly;
// the ingest worker derives chunks from them.
type Source struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Organization string     `json:"organization,omitempty"`
	Location     string     `json:"location,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"` // nil = current
	Summary      string     `json:"summary,omitempty"`
	Achievements []string   `json:"achievements,omitempty"`
	Skills       []string   `json:"skills,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	ContentHash  string     `json:"-"`
	Status       string     `json:"status"`
}

var validTypes = map[string]bool{
	"job":           true,
	"project":       true,
	"education":     true,
	"certification": true,
	"bio":           true,
}

func (s *Source) Validate() error {
	if !validTypes[s.Type] {
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return fmt.Errorf("end date precedes start date")
	}
	return nil
}

// contentHash digests the fields that feed chunking, so re-submitting
// an unchanged record is detected before any embedding work.
func (s *Source) contentHash() string {
	parts := []string{
		s.Type, s.Title, s.Organization, s.Location, s.Summary,
		strings.Join(s.Achievements, "\n"),
		strings.Join(s.Skills, ","),
		strings.Join(s.Tags, ","),
	}
	if s.StartDate != nil {
		parts = append(parts, s.StartDate.Format("2006-01-02"))
	}
	if s.EndDate != nil {
		parts = append(parts, s.EndDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "\x1f"))))
}

type Repository interface {
	Save(ctx context.Context, src *Source) error
	Update(ctx context.Context, src *Source) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id string) (*Source, error)
	List(ctx context.Context) ([]Source, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type ChunkStore interface {
	DeleteChunksBySource(ctx context.Context, sourceID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo       Repository
	pub        EventPublisher
	chunkStore ChunkStore
}

func NewService(repo Repository, pub EventPublisher, chunkStore ChunkStore) *Service {
	return &Service{repo: repo, pub: pub, chunkStore: chunkStore}
}

func (s *Service) Create(ctx context.Context, src *Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	src.ContentHash = src.contentHash()

	exists, err := s.repo.ExistsByHash(ctx, src.ContentHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	src.Status = "in_progress"
	if err := s.repo.Save(ctx, src); err != nil {
		return err
	}

	s.publishIngest(ctx, src, false)
	return nil
}

// Update replaces a record on re-extraction and re-ingests its chunks.
func (s *Service) Update(ctx context.Context, src *Source) error {
	if err := src.Validate(); err != nil {
		return err
	}

	current, err := s.repo.Get(ctx, src.ID)
	if err != nil {
		return err
	}

	src.ContentHash = src.contentHash()
	if src.ContentHash == current.ContentHash {
		// Unchanged content; nothing to re-embed.
		return nil
	}

	src.Status = "in_progress"
	if err := s.repo.Update(ctx, src); err != nil {
		return err
	}

	s.publishIngest(ctx, src, true)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Source, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Source, error) {
	return s.repo.List(ctx)
}

// Delete removes the record and its chunks. The vector store is
// cleaned first so a failed delete never leaves orphaned chunks behind
// a soft-deleted source.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.chunkStore.DeleteChunksBySource(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// ReSync re-runs ingestion for a stored record, replacing its chunks.
func (s *Service) ReSync(ctx context.Context, id string) error {
	src, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, "in_progress"); err != nil {
		return err
	}
	s.publishIngest(ctx, src, true)
	return nil
}

func (s *Service) publishIngest(ctx context.Context, src *Source, replace bool) {
	payload, _ := json.Marshal(worker.IngestPayload{
		SourceID:      src.ID,
		Type:          src.Type,
		Title:         src.Title,
		Organization:  src.Organization,
		Location:      src.Location,
		StartDate:     src.StartDate,
		EndDate:       src.EndDate,
		Summary:       src.Summary,
		Achievements:  src.Achievements,
		Skills:        src.Skills,
		Tags:          src.Tags,
		Replace:       replace,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngest, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest event", "error", err, "source_id", src.ID)
	} else {
		slog.InfoContext(ctx, "published ingest event", "source_id", src.ID, "replace", replace)
	}
}
