package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

// ListQuestionnaire returns all sections with their questions, both ordered
// by display_order.
func (r Repo) ListQuestionnaire(ctx context.Context) ([]domain.QuestionnaireSection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,display_order FROM questionnaire_sections ORDER BY display_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []domain.QuestionnaireSection
	for rows.Next() {
		var s domain.QuestionnaireSection
		if err := rows.Scan(&s.ID, &s.Name, &s.DisplayOrder); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sections {
		questions, err := r.ListQuestions(ctx, sections[i].ID)
		if err != nil {
			return nil, err
		}
		sections[i].Questions = questions
	}
	return sections, nil
}

func (r Repo) ListQuestions(ctx context.Context, sectionID int64) ([]domain.QuestionnaireQuestion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,section_id,text,type,mandatory,COALESCE(options,''),display_order,COALESCE(risk_factor_key,'')
FROM questionnaire_questions WHERE section_id=? ORDER BY display_order ASC, id ASC`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionnaireQuestion
	for rows.Next() {
		var q domain.QuestionnaireQuestion
		if err := rows.Scan(&q.ID, &q.SectionID, &q.Text, &q.Type, &q.Mandatory, &q.Options, &q.DisplayOrder, &q.RiskFactorKey); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// MandatoryQuestions returns every mandatory question in questionnaire
// order, section first then question display order.
func (r Repo) MandatoryQuestions(ctx context.Context) ([]domain.QuestionnaireQuestion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT q.id,q.section_id,q.text,q.type,q.mandatory,COALESCE(q.options,''),q.display_order,COALESCE(q.risk_factor_key,'')
FROM questionnaire_questions q JOIN questionnaire_sections s ON s.id=q.section_id
WHERE q.mandatory=1 ORDER BY s.display_order ASC, s.id ASC, q.display_order ASC, q.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionnaireQuestion
	for rows.Next() {
		var q domain.QuestionnaireQuestion
		if err := rows.Scan(&q.ID, &q.SectionID, &q.Text, &q.Type, &q.Mandatory, &q.Options, &q.DisplayOrder, &q.RiskFactorKey); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) FindSectionByName(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM questionnaire_sections WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) NextSectionOrder(ctx context.Context, tx *sql.Tx) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(display_order),0)+1 FROM questionnaire_sections`).Scan(&next)
	return next, err
}

func (r Repo) NextQuestionOrder(ctx context.Context, tx *sql.Tx, sectionID int64) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(display_order),0)+1 FROM questionnaire_questions WHERE section_id=?`, sectionID).Scan(&next)
	return next, err
}

func (r Repo) InsertSection(ctx context.Context, tx *sql.Tx, name string, displayOrder int) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO questionnaire_sections(name,display_order) VALUES (?,?)`, name, displayOrder)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertQuestion(ctx context.Context, tx *sql.Tx, q domain.QuestionnaireQuestion) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO questionnaire_questions(section_id,text,type,mandatory,options,display_order,risk_factor_key) VALUES (?,?,?,?,?,?,?)`,
		q.SectionID, q.Text, q.Type, q.Mandatory, nullable(q.Options), q.DisplayOrder, nullable(q.RiskFactorKey))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpsertAnswer(ctx context.Context, tx *sql.Tx, a domain.QuestionnaireAnswer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO questionnaire_answers(case_id,question_id,text) VALUES (?,?,?)
ON CONFLICT(case_id,question_id) DO UPDATE SET text=excluded.text`, a.CaseID, a.QuestionID, a.Text)
	return err
}

func (r Repo) ListAnswers(ctx context.Context, caseID int64) ([]domain.QuestionnaireAnswer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_id,question_id,text FROM questionnaire_answers WHERE case_id=?`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionnaireAnswer
	for rows.Next() {
		var a domain.QuestionnaireAnswer
		if err := rows.Scan(&a.CaseID, &a.QuestionID, &a.Text); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AnsweredQuestionIDs returns the set of question IDs with a non-empty
// answer for the case.
func (r Repo) AnsweredQuestionIDs(ctx context.Context, tx *sql.Tx, caseID int64) (map[int64]bool, error) {
	var rows *sql.Rows
	var err error
	query := `SELECT question_id FROM questionnaire_answers WHERE case_id=? AND TRIM(text) != ''`
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, caseID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, caseID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}
