package types

import "time"

type SessionOrigin string

const (
	SessionOriginManual SessionOrigin = "MANUAL"
	SessionOriginAuto   SessionOrigin = "AUTO"
)

const RevocationReasonCompromised = "COMPROMISED"

// SessionRecord is a revoked viewing session. Records are overwritten on re-flagging and
// expire from storage once Ttl (unix seconds) passes.
type SessionRecord struct {
	SessionID      string        `json:"session_id" dynamodbav:"session_id"`
	Origin         SessionOrigin `json:"type" dynamodbav:"type"`
	Reason         string        `json:"reason" dynamodbav:"reason"`
	Score          float64       `json:"score" dynamodbav:"score"`
	IpRate         float64       `json:"ip_rate,omitempty" dynamodbav:"ip_rate,omitempty"`
	IpPenalty      float64       `json:"ip_penalty,omitempty" dynamodbav:"ip_penalty,omitempty"`
	RefererPenalty float64       `json:"referer_penalty,omitempty" dynamodbav:"referer_penalty,omitempty"`
	UaPenalty      float64       `json:"ua_penalty,omitempty" dynamodbav:"ua_penalty,omitempty"`
	LastUpdated    int64         `json:"last_updated" dynamodbav:"last_updated"`
	Ttl            int64         `json:"ttl" dynamodbav:"ttl"`
}

func (r *SessionRecord) Expired(now time.Time) bool {
	return r.Ttl > 0 && r.Ttl <= now.Unix()
}

// BlockRule rejects requests whose path starts with "/<SessionID>".
type BlockRule struct {
	Name      string        `json:"name"`
	SessionID string        `json:"sessionId"`
	Priority  int           `json:"priority"`
	Origin    SessionOrigin `json:"origin"`
}

func (br *BlockRule) SearchString() string {
	return "/" + br.SessionID
}
