package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// EnqueueMail stores a mail request for the given process. The request stays
// pending until the mailing executor dispatches it and marks it sent.
func (s *Store) EnqueueMail(ctx context.Context, processID string, mail domain.Mail) error {
	params, err := json.Marshal(mail.Parameters)
	if err != nil {
		return fmt.Errorf("encoding mail parameters: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO mail_outbox (request_id, process_id, recipient, template, parameters, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		mail.RequestID, processID, mail.Recipient, mail.Template, string(params),
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("enqueueing mail %s: %w", mail.RequestID, err)
	}
	return nil
}

// NextPending returns the oldest unsent mail request for the process. The
// second return value is false when nothing is pending.
func (s *Store) NextPending(ctx context.Context, processID string) (domain.Mail, bool, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT request_id, recipient, template, parameters
		 FROM mail_outbox
		 WHERE process_id = ? AND sent_at IS NULL
		 ORDER BY created_at, request_id
		 LIMIT 1`,
		processID,
	)

	var mail domain.Mail
	var params string
	err := row.Scan(&mail.RequestID, &mail.Recipient, &mail.Template, &params)
	if err == sql.ErrNoRows {
		return domain.Mail{}, false, nil
	}
	if err != nil {
		return domain.Mail{}, false, fmt.Errorf("loading pending mail for process %s: %w", processID, err)
	}

	if err := json.Unmarshal([]byte(params), &mail.Parameters); err != nil {
		return domain.Mail{}, false, fmt.Errorf("decoding mail parameters: %w", err)
	}
	return mail, true, nil
}

// MarkSent records the dispatch of a mail request. Marking an already sent
// request again is a no-op so a re-executed step stays idempotent.
func (s *Store) MarkSent(ctx context.Context, requestID string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE mail_outbox SET sent_at = ? WHERE request_id = ? AND sent_at IS NULL`,
		time.Now().UTC().Format(timeFormat), requestID,
	)
	if err != nil {
		return fmt.Errorf("marking mail %s sent: %w", requestID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking mail %s sent: %w", requestID, err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mail_outbox WHERE request_id = ?`, requestID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking mail %s: %w", requestID, err)
	}
	if exists == 0 {
		return &domain.NotFoundError{Resource: "mail request", ID: requestID}
	}
	return nil
}
