// Package redisstore is a distributed store.Store backend on top of
// github.com/go-redis/redis/v7, for deployments where several orchestrator
// workers share one net's state. The teacher repo declares go-redis/redis/v7
// in its go.mod but never imports it; this is its new home, repurposed to
// supply the atomic scripted operations of spec.md §4.1/§4.3 via Lua EVAL,
// loaded once with SCRIPT LOAD and invoked thereafter by SHA (EvalSha), the
// idiomatic go-redis scripting pattern.
package redisstore

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v7"

	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/store"
)

// putTokenScript implements put_token: fails with "duplicate" as the first
// return value if (color,placeIdx) is already marked, otherwise inserts the
// marking and increments the group counter atomically.
//
// KEYS[1] = color_marking hash key (net)
// KEYS[2] = group_marking hash key (net)
// ARGV[1] = "<color>:<placeIdx>" field
// ARGV[2] = tokenIdx
// ARGV[3] = "<groupIdx>:<placeIdx>" field
const putTokenScript = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return "duplicate"
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("HINCRBY", KEYS[2], ARGV[3], 1)
return "ok"
`

// consumeTokensScript implements consume_tokens_basic. It receives the
// ordered list of input place indices as ARGV[4:] and either leaves state
// untouched (NotReady/AlreadyEnabled/AlreadyFired) or atomically clears
// every input marking, decrements the group counts, and sets state=firing.
//
// KEYS[1] = state key (transition,color)
// KEYS[2] = enablers set key (transition,color)
// KEYS[3] = color_marking hash key (net)
// KEYS[4] = group_marking hash key (net)
// ARGV[1] = enablerIdx
// ARGV[2] = color
// ARGV[3] = groupIdx
// ARGV[4:] = input place indices
const consumeTokensScript = `
local state = redis.call("GET", KEYS[1])
if state == "fired" then
  return {"already_fired"}
end
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return {"already_enabled"}
end
redis.call("SADD", KEYS[2], ARGV[1])

local consumed = {}
for i = 4, #ARGV do
  local place = ARGV[i]
  local field = ARGV[2] .. ":" .. place
  local tok = redis.call("HGET", KEYS[3], field)
  if not tok then
    return {"not_ready"}
  end
  consumed[#consumed+1] = place
  consumed[#consumed+1] = tok
end

for i = 4, #ARGV do
  local place = ARGV[i]
  local field = ARGV[2] .. ":" .. place
  redis.call("HDEL", KEYS[3], field)
  local gfield = ARGV[3] .. ":" .. place
  redis.call("HINCRBY", KEYS[4], gfield, -1)
end

redis.call("SET", KEYS[1], "firing")

local out = {"ready"}
for _, v in ipairs(consumed) do
  out[#out+1] = v
end
return out
`

// Store is a Redis-backed store.Store. Open loads both scripts with SCRIPT
// LOAD and keeps their SHAs (client-side, per Store instance), so every
// later call goes through EvalSha instead of sending the Lua source.
type Store struct {
	rdb         *redis.Client
	putTokenSHA string
	consumeSHA  string
}

// Open dials a Redis server at addr (host:port) and prepares the Store.
func Open(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping().Err(); err != nil {
		return nil, flowerr.Wrap(err, "redisstore connect")
	}
	s := &Store{rdb: rdb}
	sha, err := rdb.ScriptLoad(putTokenScript).Result()
	if err != nil {
		return nil, flowerr.Wrap(err, "redisstore load put_token script")
	}
	s.putTokenSHA = sha
	sha, err = rdb.ScriptLoad(consumeTokensScript).Result()
	if err != nil {
		return nil, flowerr.Wrap(err, "redisstore load consume_tokens script")
	}
	s.consumeSHA = sha
	return s, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, flowerr.Wrap(err, "redisstore get")
	}
	return v, true, nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, flowerr.Wrap(err, "redisstore hget")
	}
	return v, true, nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return flowerr.Wrap(s.rdb.HSet(key, field, value).Err(), "redisstore hset")
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(key).Result()
	if err != nil {
		return nil, flowerr.Wrap(err, "redisstore hgetall")
	}
	return m, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	v, err := s.rdb.HIncrBy(key, field, delta).Result()
	if err != nil {
		return 0, flowerr.Wrap(err, "redisstore hincrby")
	}
	return v, nil
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.HIncrBy(ctx, "counters", key, delta)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return flowerr.Wrap(s.rdb.SAdd(key, args...).Err(), "redisstore sadd")
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.rdb.SMembers(key).Result()
	if err != nil {
		return nil, flowerr.Wrap(err, "redisstore smembers")
	}
	return v, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	v, err := s.rdb.SIsMember(key, member).Result()
	if err != nil {
		return false, flowerr.Wrap(err, "redisstore sismember")
	}
	return v, nil
}

func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	v, err := s.rdb.SetNX(key, value, 0).Result()
	if err != nil {
		return false, flowerr.Wrap(err, "redisstore setnx")
	}
	return v, nil
}

func (s *Store) PutToken(ctx context.Context, netKey string, placeIdx, tokenIdx, color, groupIdx int) error {
	colorMarkingKey := netKey + ":color_marking"
	groupMarkingKey := netKey + ":group_marking"
	field := strconv.Itoa(color) + ":" + strconv.Itoa(placeIdx)
	groupField := strconv.Itoa(groupIdx) + ":" + strconv.Itoa(placeIdx)

	res, err := s.rdb.EvalSha(s.putTokenSHA, []string{colorMarkingKey, groupMarkingKey},
		field, strconv.Itoa(tokenIdx), groupField).Result()
	if err != nil {
		return flowerr.Wrap(err, "redisstore put_token")
	}
	if res == "duplicate" {
		return flowerr.ErrDuplicateToken
	}
	return nil
}

func (s *Store) ConsumeTokensBasic(ctx context.Context, req store.ConsumeRequest) (store.ConsumeResult, error) {
	stateKey := req.NetKey + ":state:" + strconv.Itoa(req.Transition) + ":" + strconv.Itoa(req.Color)
	enablersKey := req.NetKey + ":enablers:" + strconv.Itoa(req.Transition) + ":" + strconv.Itoa(req.Color)
	colorMarkingKey := req.NetKey + ":color_marking"
	groupMarkingKey := req.NetKey + ":group_marking"

	args := []interface{}{req.EnablerIdx, req.Color, req.GroupIdx}
	for _, p := range req.PlaceArcsIn {
		args = append(args, p)
	}

	raw, err := s.rdb.EvalSha(s.consumeSHA,
		[]string{stateKey, enablersKey, colorMarkingKey, groupMarkingKey}, args...).Result()
	if err != nil {
		return store.ConsumeResult{}, flowerr.Wrap(err, "redisstore consume_tokens")
	}

	items, ok := raw.([]interface{})
	if !ok || len(items) == 0 {
		return store.ConsumeResult{}, flowerr.Wrap(flowerr.ErrTransientStore, "redisstore consume_tokens: malformed reply")
	}

	result := store.ConsumeResult{PlaceTokens: map[int]int{}}
	switch items[0] {
	case "already_fired":
		result.Outcome = store.OutcomeAlreadyFired
	case "already_enabled":
		result.Outcome = store.OutcomeAlreadyEnabled
	case "not_ready":
		result.Outcome = store.OutcomeNotReady
	case "ready":
		result.Outcome = store.OutcomeReady
		result.ConsumedColor = req.Color
		for i := 1; i+1 < len(items); i += 2 {
			place, _ := strconv.Atoi(items[i].(string))
			tok, _ := strconv.Atoi(items[i+1].(string))
			result.PlaceTokens[place] = tok
		}
	}
	return result, nil
}

// MarkFired advances (transition, color) from firing to fired.
func (s *Store) MarkFired(ctx context.Context, netKey string, transition, color int) error {
	stateKey := netKey + ":state:" + strconv.Itoa(transition) + ":" + strconv.Itoa(color)
	return flowerr.Wrap(s.rdb.Set(stateKey, "fired", 0).Err(), "redisstore mark_fired")
}
