package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

// InsertCommandRequest records an outbound command in the sent state.
func (s *Store) InsertCommandRequest(ctx context.Context, req types.CommandRequest) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "InsertCommandRequest", "encode payload")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO command_requests (request_id, device_id, topic, payload, status, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.RequestID, req.DeviceID, req.Topic, payload, string(req.Status), req.SentAt)
	if err != nil {
		s.metrics.recordError("insert_command")
		return errors.WrapTransient(err, "Store", "InsertCommandRequest", "insert request")
	}
	return nil
}

// MarkCommandReplied resolves a pending command with the device's verdict.
// Returns false when the request id is unknown or the command already
// reached a terminal state, so a duplicate reply is a no-op.
func (s *Store) MarkCommandReplied(ctx context.Context, requestID string, status types.CommandStatus, repliedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE command_requests
		    SET status = $2, replied_at = $3
		  WHERE request_id = $1
		    AND status NOT IN ($4, $5, $6)`,
		requestID, string(status), repliedAt,
		string(types.CommandRepliedOK), string(types.CommandRepliedError), string(types.CommandTimeout))
	if err != nil {
		s.metrics.recordError("mark_command_replied")
		return false, errors.WrapTransient(err, "Store", "MarkCommandReplied", "update request")
	}
	return tag.RowsAffected() > 0, nil
}

// SweepStaleCommands marks commands still pending past the deadline as
// timed out and returns them for broadcast.
func (s *Store) SweepStaleCommands(ctx context.Context, olderThan time.Time) ([]types.CommandRequest, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE command_requests
		    SET status = $1
		  WHERE sent_at < $2
		    AND status NOT IN ($3, $4, $5)
		 RETURNING request_id, device_id, sent_at`,
		string(types.CommandTimeout), olderThan,
		string(types.CommandRepliedOK), string(types.CommandRepliedError), string(types.CommandTimeout))
	if err != nil {
		s.metrics.recordError("sweep_commands")
		return nil, errors.WrapTransient(err, "Store", "SweepStaleCommands", "sweep requests")
	}
	defer rows.Close()

	var timedOut []types.CommandRequest
	for rows.Next() {
		req := types.CommandRequest{Status: types.CommandTimeout}
		if err := rows.Scan(&req.RequestID, &req.DeviceID, &req.SentAt); err != nil {
			return timedOut, errors.WrapTransient(err, "Store", "SweepStaleCommands", "scan request")
		}
		timedOut = append(timedOut, req)
	}
	if err := rows.Err(); err != nil {
		return timedOut, errors.WrapTransient(err, "Store", "SweepStaleCommands", "iterate requests")
	}
	return timedOut, nil
}
