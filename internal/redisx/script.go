package redisx

import "github.com/redis/go-redis/v9"

// applyScript applies one feed write atomically.
//
// KEYS[1] = collections set, KEYS[2..] = collection hashes touched.
// ARGV[1] = {"guard": {...}?, "ops": [{key, coll, id, path, kind, value}]}
// ARGV[2] = change channel.
//
// Returns 0 when the guard does not hold (nothing written), 1 otherwise.
var applyScript = redis.NewScript(`
local req = cjson.decode(ARGV[1])
local docs = {}

local function load(key, coll, id)
  local slot = key .. '\0' .. id
  local d = docs[slot]
  if d == nil then
    local raw = redis.call('HGET', key, id)
    local v = nil
    if raw then v = cjson.decode(raw) end
    d = {key = key, coll = coll, id = id, value = v, dirty = false}
    docs[slot] = d
  end
  return d
end

local function get(v, path)
  for _, p in ipairs(path) do
    if type(v) ~= 'table' then return nil end
    v = v[p]
    if v == nil then return nil end
  end
  if v == cjson.null then return nil end
  return v
end

local function truthy(v)
  if v == nil or v == false or v == cjson.null then return false end
  if v == 0 or v == '' or v == 'false' or v == '0' then return false end
  return true
end

local function set(root, path, value)
  if #path == 0 then return value end
  if type(root) ~= 'table' then root = {} end
  local cur = root
  for i = 1, #path - 1 do
    local nxt = cur[path[i]]
    if type(nxt) ~= 'table' then
      nxt = {}
      cur[path[i]] = nxt
    end
    cur = nxt
  end
  cur[path[#path]] = value
  return root
end

local function del(root, path)
  if #path == 0 or type(root) ~= 'table' then return nil end
  local chain = {root}
  local cur = root
  for i = 1, #path - 1 do
    cur = cur[path[i]]
    if type(cur) ~= 'table' then return root end
    chain[#chain + 1] = cur
  end
  cur[path[#path]] = nil
  for i = #chain, 2, -1 do
    if next(chain[i]) ~= nil then break end
    chain[i - 1][path[i - 1]] = nil
  end
  return root
end

local g = req.guard
if g then
  local d = load(g.key, g.coll, g.id)
  local cur = get(d.value, g.path)
  local ok
  if g.op == 'truthy' then
    ok = truthy(cur)
  elseif g.op == 'falsy' then
    ok = not truthy(cur)
  else
    local want = g.value
    if want == cjson.null then want = nil end
    ok = cur == want
  end
  if not ok then return 0 end
end

local touched = {}
for _, op in ipairs(req.ops) do
  local d = load(op.key, op.coll, op.id)
  local v = d.value
  if v == cjson.null then v = nil end
  if op.kind == 'del' then
    v = del(v, op.path)
  elseif op.kind == 'inc' then
    local n = tonumber(get(v, op.path)) or 0
    v = set(v, op.path, n + op.value)
  else
    v = set(v, op.path, op.value)
  end
  d.value = v
  d.dirty = true
  touched[#touched + 1] = op.coll .. '/' .. op.id .. '/' .. table.concat(op.path, '/')
end

for _, d in pairs(docs) do
  if d.dirty then
    local v = d.value
    if v == nil or v == cjson.null or (type(v) == 'table' and next(v) == nil) then
      redis.call('HDEL', d.key, d.id)
    else
      redis.call('HSET', d.key, d.id, cjson.encode(v))
      redis.call('SADD', KEYS[1], d.coll)
    end
  end
end

redis.call('PUBLISH', ARGV[2], cjson.encode(touched))
return 1
`)
