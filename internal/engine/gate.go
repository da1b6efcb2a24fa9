package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// CheckComplete verifies every mandatory question has a non-empty answer.
// The first gap, in questionnaire display order, is returned as a
// ValidationError so the analyst sees exactly which question blocks the
// case.
func (e Engine) CheckComplete(ctx context.Context, caseID int64) error {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return err
	}
	return e.checkCompleteTx(ctx, nil, caseID)
}

func (e Engine) checkCompleteTx(ctx context.Context, tx *sql.Tx, caseID int64) error {
	mandatory, err := e.Repo.MandatoryQuestions(ctx)
	if err != nil {
		return err
	}
	answered, err := e.Repo.AnsweredQuestionIDs(ctx, tx, caseID)
	if err != nil {
		return err
	}
	for _, q := range mandatory {
		if !answered[q.ID] {
			return ValidationError{Question: q.Text}
		}
	}
	return nil
}

type AddQuestionOptions struct {
	Section       string
	Text          string
	Type          string
	Mandatory     bool
	Options       string
	RiskFactorKey string
}

// AddQuestion appends a question to the named section, creating the
// section at the end of the template when it does not exist yet.
func (e Engine) AddQuestion(ctx context.Context, opts AddQuestionOptions) (domain.QuestionnaireQuestion, error) {
	if opts.Section == "" {
		return domain.QuestionnaireQuestion{}, fmt.Errorf("section is required")
	}
	if opts.Text == "" {
		return domain.QuestionnaireQuestion{}, fmt.Errorf("text is required")
	}
	if opts.Type == "" {
		opts.Type = "TEXT"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QuestionnaireQuestion{}, err
	}
	defer tx.Rollback()

	sectionID, err := e.Repo.FindSectionByName(ctx, tx, opts.Section)
	if errors.Is(err, repo.ErrNotFound) {
		order, oerr := e.Repo.NextSectionOrder(ctx, tx)
		if oerr != nil {
			return domain.QuestionnaireQuestion{}, oerr
		}
		sectionID, err = e.Repo.InsertSection(ctx, tx, opts.Section, order)
	}
	if err != nil {
		return domain.QuestionnaireQuestion{}, err
	}
	order, err := e.Repo.NextQuestionOrder(ctx, tx, sectionID)
	if err != nil {
		return domain.QuestionnaireQuestion{}, err
	}
	q := domain.QuestionnaireQuestion{
		SectionID:     sectionID,
		Text:          opts.Text,
		Type:          opts.Type,
		Mandatory:     opts.Mandatory,
		Options:       opts.Options,
		DisplayOrder:  order,
		RiskFactorKey: opts.RiskFactorKey,
	}
	id, err := e.Repo.InsertQuestion(ctx, tx, q)
	if err != nil {
		return domain.QuestionnaireQuestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QuestionnaireQuestion{}, err
	}
	q.ID = id
	return q, nil
}
