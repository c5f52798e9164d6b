// Package audit records kernel decisions (launch, kill, crash, dropped records) for
// later inspection.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
)

// Decision actions written by the kernel.
const (
	ActionLaunch     = "process.launch"
	ActionKill       = "process.kill"
	ActionSuspend    = "process.suspend"
	ActionResume     = "process.resume"
	ActionTerminate  = "process.terminate"
	ActionCrash      = "process.crash"
	ActionDecodeDrop = "decode.drop"
	ActionMessage    = "process.message"
)

// Sink persists decision records.
type Sink interface {
	WriteDecision(action, inputsHash, outcome string, pid models.ProcessID, tick uint64, details string) (*models.Decision, error)
}

// Writer writes decision records for audit trails.
type Writer struct {
	sink Sink
}

// NewWriter creates a new decision writer.
func NewWriter(s Sink) *Writer {
	return &Writer{sink: s}
}

// Record writes a decision record. inputs is hashed, not stored.
func (w *Writer) Record(action string, inputs interface{}, outcome string, pid models.ProcessID, tick uint64, details string) (*models.Decision, error) {
	return w.sink.WriteDecision(action, hashInputs(inputs), outcome, pid, tick, details)
}

// hashInputs returns the hex SHA-256 of the JSON form of inputs.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
