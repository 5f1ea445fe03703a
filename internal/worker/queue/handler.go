package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingBatchID   = errors.New("message has no batchId")
)

// DecodeBatchUploaded parses an inbound message. On failure the returned
// event still carries whatever batch and uploader ids could be read, so a
// degraded completion can be addressed to the right batch.
func DecodeBatchUploaded(body []byte) (models.SubmissionBatchUploaded, error) {
	var event models.SubmissionBatchUploaded
	if err := json.Unmarshal(body, &event); err != nil {
		return salvageIDs(body), fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	event.BatchID = strings.TrimSpace(event.BatchID)
	if event.BatchID == "" {
		return event, ErrMissingBatchID
	}

	return event, nil
}

// salvageIDs reads the identifiers from a body whose other fields do not
// match the contract, e.g. forbiddenKeywords sent as a string.
func salvageIDs(body []byte) models.SubmissionBatchUploaded {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.SubmissionBatchUploaded{}
	}

	var event models.SubmissionBatchUploaded
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			continue
		}
		switch key {
		case "batchId":
			event.BatchID = strings.TrimSpace(s)
		case "uploadedByManagerId":
			event.UploadedByManagerID = s
		case "examId":
			event.ExamID = s
		}
	}
	return event
}

func EncodeScanCompleted(event models.ScanCompleted) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan completed event: %w", err)
	}
	return body, nil
}
