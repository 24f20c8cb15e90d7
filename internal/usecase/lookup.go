package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/repository"
)

const defaultEvidenceURLTTL = 15 * time.Minute

type GrievanceReader interface {
	GetGrievance(ctx context.Context, id string) (domain.Grievance, error)
	GetGrievanceByTracking(ctx context.Context, trackingID string) (domain.Grievance, error)
}

type EvidenceLinker interface {
	ReadURL(ctx context.Context, url string, ttl time.Duration) (string, error)
}

type LookupOutput struct {
	Grievance domain.Grievance
	// EvidenceReadURL is a time-limited link, empty without evidence.
	EvidenceReadURL string
}

// LookupService fetches a grievance by internal id or public tracking id.
type LookupService struct {
	repo  GrievanceReader
	links EvidenceLinker
	ttl   time.Duration
}

func NewLookupService(repo GrievanceReader, links EvidenceLinker, ttl time.Duration) (*LookupService, error) {
	if repo == nil {
		return nil, errors.New("usecase: grievance reader must not be nil")
	}
	if links == nil {
		return nil, errors.New("usecase: evidence linker must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultEvidenceURLTTL
	}
	return &LookupService{repo: repo, links: links, ttl: ttl}, nil
}

func (s *LookupService) Get(ctx context.Context, ref string) (LookupOutput, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return LookupOutput{}, newError(ErrorValidation, "missing_reference", nil)
	}

	var (
		g   domain.Grievance
		err error
	)
	if ValidTrackingID(ref) {
		g, err = s.repo.GetGrievanceByTracking(ctx, ref)
	} else {
		g, err = s.repo.GetGrievance(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LookupOutput{}, newError(ErrorNotFound, "unknown_grievance", err)
		}
		return LookupOutput{}, newError(ErrorUpstream, "lookup_error", err)
	}

	out := LookupOutput{Grievance: g}
	if g.EvidenceURL != "" {
		link, err := s.links.ReadURL(ctx, g.EvidenceURL, s.ttl)
		if err != nil {
			// The grievance is still worth returning without its link.
			slog.WarnContext(ctx, "failed to presign evidence", "grievance_id", g.ID, "err", err)
		} else {
			out.EvidenceReadURL = link
		}
	}
	return out, nil
}
