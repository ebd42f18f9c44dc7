// Package store archives finished and in-flight calls to Postgres so that
// transcripts and analyses survive a restart.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/costs"
	"github.com/shuhub/collector/internal/debtor"
)

// ErrNotFound is returned when the archive has no row for a call.
var ErrNotFound = errors.New("store: call not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Call is the archived row of one outbound call.
type Call struct {
	CallID      string     `json:"callId"`
	StreamID    string     `json:"streamId,omitempty"`
	SubjectID   string     `json:"subjectId"`
	SubjectName string     `json:"subjectName,omitempty"`
	ToNumber    string     `json:"to,omitempty"`
	FromNumber  string     `json:"from,omitempty"`
	Status      string     `json:"state"`
	Anomaly     string     `json:"anomaly,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// CallFromSession converts a registry session into an archive row.
func CallFromSession(s calls.Session) Call {
	return Call{
		CallID:      s.CallID,
		StreamID:    s.StreamID,
		SubjectID:   s.SubjectID,
		SubjectName: s.Subject.Name,
		ToNumber:    s.To,
		FromNumber:  s.From,
		Status:      string(s.State),
		Anomaly:     s.Anomaly,
		StartedAt:   s.StartedAt,
		AnsweredAt:  s.AnsweredAt,
		EndedAt:     s.EndedAt,
	}
}

// Session converts the row back into a registry session. The debtor payload
// is not archived, only its id and name.
func (c Call) Session() calls.Session {
	return calls.Session{
		CallID:     c.CallID,
		StreamID:   c.StreamID,
		SubjectID:  c.SubjectID,
		Subject:    debtor.Context{ID: c.SubjectID, Name: c.SubjectName},
		To:         c.ToNumber,
		From:       c.FromNumber,
		State:      calls.State(c.Status),
		Anomaly:    c.Anomaly,
		StartedAt:  c.StartedAt,
		AnsweredAt: c.AnsweredAt,
		EndedAt:    c.EndedAt,
	}
}

// CallDetail is a call with everything recorded about it.
type CallDetail struct {
	Call
	Messages []conversation.Message `json:"messages"`
	Analyses []analysis.Result      `json:"analyses"`
	Costs    *costs.CallCosts       `json:"costs,omitempty"`
}

// statusRankSQL ranks a status column the way calls.Rank does.
func statusRankSQL(column string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for _, st := range calls.States() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", st, calls.Rank(st))
	}
	b.WriteString(" ELSE -1 END")
	return b.String()
}

var upsertCallSQL = fmt.Sprintf(`
		INSERT INTO calls (provider, provider_call_id, stream_sid, subject_id, subject_name, from_number, to_number, status, anomaly, started_at, answered_at, ended_at)
		VALUES ('twilio', $1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (provider, provider_call_id) DO UPDATE SET
			stream_sid = COALESCE(EXCLUDED.stream_sid, calls.stream_sid),
			status = CASE WHEN %s > %s THEN EXCLUDED.status ELSE calls.status END,
			anomaly = COALESCE(calls.anomaly, EXCLUDED.anomaly),
			answered_at = COALESCE(calls.answered_at, EXCLUDED.answered_at),
			ended_at = COALESCE(calls.ended_at, EXCLUDED.ended_at)
	`, statusRankSQL("EXCLUDED.status"), statusRankSQL("calls.status"))

// UpsertCall inserts a call or refreshes its lifecycle columns. The status
// only moves forward; timestamps and the anomaly are only ever filled in,
// never cleared.
func (s *Store) UpsertCall(ctx context.Context, c Call) error {
	_, err := s.db.Exec(ctx, upsertCallSQL,
		c.CallID, c.StreamID, c.SubjectID, c.SubjectName, c.FromNumber, c.ToNumber, c.Status, c.Anomaly, c.StartedAt, c.AnsweredAt, c.EndedAt)
	return err
}

// InsertMessage archives one transcript line. Replays of the same message id
// are ignored.
func (s *Store) InsertMessage(ctx context.Context, callID string, m conversation.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_messages (id, provider_call_id, speaker, text, spoken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, callID, string(m.Speaker), m.Text, m.Timestamp)
	return err
}

// InsertAnalysis appends an analysis to the call's history.
func (s *Store) InsertAnalysis(ctx context.Context, callID string, r analysis.Result) error {
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return err
	}
	recommendations, err := json.Marshal(r.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO call_analyses (id, provider_call_id, payment_probability, risk_tier, findings, recommendations, raw_output, degraded, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
	`, callID, r.PaymentProbability, string(r.RiskTier), findings, recommendations, r.RawModelOutput, r.Degraded, r.CreatedAt)
	return err
}

// RecordCallCosts saves the cost estimate for a finished call.
func (s *Store) RecordCallCosts(ctx context.Context, callID string, durationSeconds int, c costs.CallCosts) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_costs (provider_call_id, call_duration_seconds, twilio_cost_cents, realtime_cost_cents, analysis_cost_cents, total_cost_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_call_id) DO UPDATE SET
			call_duration_seconds = $2, twilio_cost_cents = $3, realtime_cost_cents = $4,
			analysis_cost_cents = $5, total_cost_cents = $6
	`, callID, durationSeconds, c.TwilioCostCents, c.RealtimeCostCents, c.AnalysisCostCents, c.TotalCostCents)
	return err
}

// GetCall returns the archived row for callID.
func (s *Store) GetCall(ctx context.Context, callID string) (Call, error) {
	row := s.db.QueryRow(ctx, `
		SELECT provider_call_id, COALESCE(stream_sid, ''), subject_id, subject_name, from_number, to_number,
		       status, COALESCE(anomaly, ''), started_at, answered_at, ended_at
		FROM calls
		WHERE provider='twilio' AND provider_call_id=$1
	`, callID)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

// GetCallDetail returns the call with its transcript, analyses and costs.
func (s *Store) GetCallDetail(ctx context.Context, callID string) (CallDetail, error) {
	c, err := s.GetCall(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	out := CallDetail{Call: c, Messages: []conversation.Message{}, Analyses: []analysis.Result{}}

	rows, err := s.db.Query(ctx, `
		SELECT id, speaker, text, spoken_at
		FROM call_messages
		WHERE provider_call_id=$1
		ORDER BY seq ASC
	`, callID)
	if err != nil {
		return CallDetail{}, err
	}
	for rows.Next() {
		var m conversation.Message
		var speaker string
		if err := rows.Scan(&m.ID, &speaker, &m.Text, &m.Timestamp); err != nil {
			rows.Close()
			return CallDetail{}, err
		}
		m.Speaker = conversation.Speaker(speaker)
		out.Messages = append(out.Messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CallDetail{}, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT payment_probability, risk_tier, findings, recommendations, raw_output, degraded, created_at
		FROM call_analyses
		WHERE provider_call_id=$1
		ORDER BY created_at ASC
	`, callID)
	if err != nil {
		return CallDetail{}, err
	}
	for rows.Next() {
		var r analysis.Result
		var tier string
		var findings, recommendations []byte
		if err := rows.Scan(&r.PaymentProbability, &tier, &findings, &recommendations, &r.RawModelOutput, &r.Degraded, &r.CreatedAt); err != nil {
			rows.Close()
			return CallDetail{}, err
		}
		r.RiskTier = debtor.RiskTier(tier)
		_ = json.Unmarshal(findings, &r.Findings)
		_ = json.Unmarshal(recommendations, &r.Recommendations)
		out.Analyses = append(out.Analyses, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CallDetail{}, err
	}

	var cc costs.CallCosts
	err = s.db.QueryRow(ctx, `
		SELECT twilio_cost_cents, realtime_cost_cents, analysis_cost_cents, total_cost_cents
		FROM call_costs WHERE provider_call_id=$1
	`, callID).Scan(&cc.TwilioCostCents, &cc.RealtimeCostCents, &cc.AnalysisCostCents, &cc.TotalCostCents)
	switch {
	case err == nil:
		out.Costs = &cc
	case !errors.Is(err, pgx.ErrNoRows):
		return CallDetail{}, err
	}

	return out, nil
}

// ListCalls returns the most recent calls, newest first.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT provider_call_id, COALESCE(stream_sid, ''), subject_id, subject_name, from_number, to_number,
		       status, COALESCE(anomaly, ''), started_at, answered_at, ended_at
		FROM calls
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row pgx.Row) (Call, error) {
	var c Call
	err := row.Scan(
		&c.CallID, &c.StreamID, &c.SubjectID, &c.SubjectName, &c.FromNumber, &c.ToNumber,
		&c.Status, &c.Anomaly, &c.StartedAt, &c.AnsweredAt, &c.EndedAt,
	)
	return c, err
}
