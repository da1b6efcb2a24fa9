// Package screening files watchlist checks for clients against an
// external provider. The wire exchange is simulated locally; results
// arrive through Resolve the way a provider callback would deliver them.
package screening

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// DefaultContexts are the watchlist dimensions checked per client.
var DefaultContexts = []string{"PEP", "ADM", "INT", "SAN"}

type Service struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Contexts []string
	Now      func() time.Time
}

func New(db *sql.DB) Service {
	return Service{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Contexts: DefaultContexts,
		Now:      time.Now,
	}
}

func (s Service) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s Service) contexts() []string {
	if len(s.Contexts) > 0 {
		return s.Contexts
	}
	return DefaultContexts
}

// Screen files a screening request for the client. One log row tracks
// the exchange and one IN_PROGRESS result row is opened per context.
func (s Service) Screen(ctx context.Context, clientID int64) (domain.ScreeningLog, error) {
	client, err := s.Repo.GetClient(ctx, clientID)
	if err != nil {
		return domain.ScreeningLog{}, err
	}
	request := map[string]any{
		"first_name":    client.FirstName,
		"last_name":     client.LastName,
		"date_of_birth": client.DateOfBirth,
		"citizenship":   client.Citizenship,
		"contexts":      s.contexts(),
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return domain.ScreeningLog{}, err
	}
	now := s.now()
	l := domain.ScreeningLog{
		ClientID:          clientID,
		RequestJSON:       string(payload),
		Status:            "IN_PROGRESS",
		ExternalRequestID: uuid.NewString(),
		CreatedAt:         now,
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScreeningLog{}, err
	}
	defer tx.Rollback()

	logID, err := s.Repo.InsertScreeningLog(ctx, tx, l)
	if err != nil {
		return domain.ScreeningLog{}, err
	}
	l.ID = logID
	for _, c := range s.contexts() {
		if err := s.Repo.InsertScreeningResult(ctx, tx, domain.ScreeningResult{
			LogID:   logID,
			Context: c,
			Status:  "IN_PROGRESS",
		}); err != nil {
			return domain.ScreeningLog{}, err
		}
	}
	cases, err := s.Repo.ListCasesByClient(ctx, clientID)
	if err != nil {
		return domain.ScreeningLog{}, err
	}
	for _, c := range cases {
		if err := s.Events.Append(ctx, tx, c.ID, events.TypeScreeningFiled, fmt.Sprintf("Screening %s filed", l.ExternalRequestID), events.SourceSystem); err != nil {
			return domain.ScreeningLog{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ScreeningLog{}, err
	}
	return l, nil
}

// Resolve records the provider's verdict for one context of a pending
// request. When the last context resolves, the log closes and every case
// of the client gets a RISK_UPDATED event.
func (s Service) Resolve(ctx context.Context, externalRequestID, screeningContext string, hit bool, matchName string) error {
	if externalRequestID == "" {
		return errors.New("external_request_id is required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	l, err := s.Repo.GetScreeningLogByRequestID(ctx, tx, externalRequestID)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.Repo.ResolveScreeningResult(ctx, tx, l.ID, screeningContext, hit, matchName, now); err != nil {
		return fmt.Errorf("resolve %s for request %s: %w", screeningContext, externalRequestID, err)
	}
	pending, err := s.Repo.PendingScreeningResults(ctx, tx, l.ID)
	if err != nil {
		return err
	}
	if pending == 0 {
		response := map[string]any{"request_id": externalRequestID, "resolved_at": now}
		payload, err := json.Marshal(response)
		if err != nil {
			return err
		}
		if err := s.Repo.CompleteScreeningLog(ctx, tx, l.ID, string(payload)); err != nil {
			return err
		}
	}
	verdict := "clear"
	if hit {
		verdict = "hit"
	}
	cases, err := s.Repo.ListCasesByClient(ctx, l.ClientID)
	if err != nil {
		return err
	}
	for _, c := range cases {
		desc := fmt.Sprintf("Screening %s resolved %s: %s", externalRequestID, screeningContext, verdict)
		if err := s.Events.Append(ctx, tx, c.ID, events.TypeRiskUpdated, desc, events.SourceSystem); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the screening logs for a client, newest first, each
// with its per-context results.
func (s Service) History(ctx context.Context, clientID int64) ([]domain.ScreeningLog, map[int64][]domain.ScreeningResult, error) {
	logs, err := s.Repo.ListScreeningLogs(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	results := map[int64][]domain.ScreeningResult{}
	for _, l := range logs {
		rs, err := s.Repo.ListScreeningResults(ctx, l.ID)
		if err != nil {
			return nil, nil, err
		}
		results[l.ID] = rs
	}
	return logs, results, nil
}
