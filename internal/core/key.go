package core

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SettleLedger/internal/money"
)

const keySeed = "SettleLedger:settlement:v1"

// SettlementKey derives the deterministic idempotency fingerprint of a
// settlement request: SHA-256 over (account, snapshot, observation,
// normalized payment). The payment amount is normalized to the account's
// currency precision first so "3", "3.0" and "3.00" produce the same key.
func SettlementKey(accountID, snapshotID, observationID uuid.UUID, payment decimal.Decimal, precision int32) string {
	h := sha256.New()
	h.Write([]byte(keySeed))
	h.Write(accountID[:])
	h.Write(snapshotID[:])
	h.Write(observationID[:])
	h.Write([]byte(money.Normalize(payment, precision)))
	return hex.EncodeToString(h.Sum(nil))
}
