package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const dateFormat = "2006-01-02"

// EncodeAccrualCursor creates a token naming the accounting date of a run and the
// last account id it enumerated. Runs page through accounts in ascending id order.
func EncodeAccrualCursor(accountingDate time.Time, lastAccountID string) string {
	return EncodeMultiFieldToken(accountingDate.Format(dateFormat), lastAccountID)
}

// DecodeAccrualCursor parses a token produced by EncodeAccrualCursor.
// An empty token decodes to an empty account id, meaning "start from the beginning".
func DecodeAccrualCursor(token string) (time.Time, string, error) {
	if token == "" {
		return time.Time{}, "", nil
	}
	parts, err := DecodeMultiFieldToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid pagination token format (expected 2 fields, got %d)", len(parts))
	}

	date, err := time.Parse(dateFormat, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid pagination token format (date parse): %w", err)
	}
	return date, parts[1], nil
}

// EncodeMultiFieldToken creates a token with any number of string fields
func EncodeMultiFieldToken(fields ...string) string {
	tokenStr := strings.Join(fields, "|")
	return base64.StdEncoding.EncodeToString([]byte(tokenStr))
}

// DecodeMultiFieldToken decodes a token into its component fields
func DecodeMultiFieldToken(token string) ([]string, error) {
	decodedBytes, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid pagination token format (base64 decode): %w", err)
	}

	return strings.Split(string(decodedBytes), "|"), nil
}
