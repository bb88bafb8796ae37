package diauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Refresh token state is one JSON record per client and public subject:
// the set of currently valid refresh tokens plus the internal subject they
// resolve to. Both scripts run atomically so concurrent exchanges cannot
// observe a token twice.

const refreshPrefix = "refresh:"

// appendRefreshScript adds a token to the record, creating it if absent.
// ARGV[1] token, ARGV[2] internal subject, ARGV[3] ttl millis.
const appendRefreshScript = `
local data = redis.call("GET", KEYS[1])
local record
if data then
  record = cjson.decode(data)
else
  record = {}
  record["refresh_tokens"] = {}
end
record["internal_subject_id"] = ARGV[2]
table.insert(record["refresh_tokens"], ARGV[1])
redis.call("SET", KEYS[1], cjson.encode(record), "PX", ARGV[3])
return redis.status_reply("OK")
`

// rotateRefreshScript removes the presented token and inserts its
// replacement in one step. ARGV[1] presented token, ARGV[2] next token,
// ARGV[3] ttl millis. Returns {0,""} record absent, {1,""} token not in the
// record, {2,subject} rotated.
const rotateRefreshScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0, ""}
end
local record = cjson.decode(data)
local remaining = {}
local found = false
for _, token in ipairs(record["refresh_tokens"]) do
  if token == ARGV[1] then
    found = true
  else
    table.insert(remaining, token)
  end
end
if not found then
  return {1, ""}
end
table.insert(remaining, ARGV[2])
record["refresh_tokens"] = remaining
redis.call("SET", KEYS[1], cjson.encode(record), "PX", ARGV[3])
return {2, record["internal_subject_id"]}
`

var (
	appendRefreshLua = redis.NewScript(appendRefreshScript)
	rotateRefreshLua = redis.NewScript(rotateRefreshScript)
)

// rotateStatus distinguishes the rejection cases so the engine can count
// reuse separately from a plainly unknown grant.
type rotateStatus int

const (
	rotateRecordAbsent rotateStatus = iota
	rotateTokenUnknown
	rotateOK
)

type refreshStore struct {
	redis   redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
}

func newRefreshStore(client redis.UniversalClient, ttl, timeout time.Duration) *refreshStore {
	return &refreshStore{
		redis:   client,
		ttl:     ttl,
		timeout: timeout,
	}
}

func refreshKey(clientID, publicSubject string) string {
	return refreshPrefix + clientID + "." + publicSubject
}

// Append registers a newly issued refresh token. Existing tokens for the
// same client and subject stay valid; each parallel login holds its own.
func (s *refreshStore) Append(ctx context.Context, clientID, publicSubject, internalSubject, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := appendRefreshLua.Run(ctx, s.redis,
		[]string{refreshKey(clientID, publicSubject)},
		token, internalSubject, s.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Rotate atomically replaces the presented token with its successor and
// returns the internal subject the record is bound to. Exactly one of any
// set of concurrent presentations of the same token rotates; the rest see
// rotateTokenUnknown.
func (s *refreshStore) Rotate(ctx context.Context, clientID, publicSubject, presented, next string) (string, rotateStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{refreshKey(clientID, publicSubject)},
		presented, next, s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return "", rotateRecordAbsent, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return "", rotateRecordAbsent, fmt.Errorf("%w: unexpected rotation reply %T", ErrStorageUnavailable, raw)
	}
	status, _ := reply[0].(int64)
	switch rotateStatus(status) {
	case rotateOK:
		subject, _ := reply[1].(string)
		if subject == "" {
			return "", rotateRecordAbsent, errors.New("refresh record missing internal subject")
		}
		return subject, rotateOK, nil
	case rotateTokenUnknown:
		return "", rotateTokenUnknown, nil
	default:
		return "", rotateRecordAbsent, nil
	}
}
