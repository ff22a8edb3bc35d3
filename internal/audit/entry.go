package audit

// Outcome values for AuditEntry.Outcome.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // protocol error, state unchanged
	OutcomeError    = "error"    // storage or transport failure
)

// AuditEntry is one line in the hash-chained JSONL audit log, written once
// per operation attempt. All fields are scalars so json.Marshal output is
// deterministic for reproducible hashing.
type AuditEntry struct {
	Timestamp  string `json:"ts"`
	RequestID  string `json:"request_id"`
	Op         string `json:"op"`
	Signer     string `json:"signer"`
	Subject    string `json:"subject"`
	Outcome    string `json:"outcome"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	ConfigHash string `json:"config_hash"`
	PrevHash   string `json:"prev_hash"`
}
