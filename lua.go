package ledger

// appendFunction is the name under which the append body is registered when
// the function library is loaded
const appendFunction = "append_events"

const (
	// wrongExpectedVersion prefixes the error raised on a version mismatch
	wrongExpectedVersion = "WrongExpectedVersion"

	luaAppendEvents = `
		-- Atomically check the stream version and append events
		-- KEYS[1] = stream entries key
		-- KEYS[2] = stream meta hash key
		-- ARGV[1] = stream name
		-- ARGV[2] = expected version (-1 no stream, -2 any)
		-- ARGV[3] = timestamp (unix milliseconds)
		-- ARGV[4..N] = {id, type, data, metadata, content type} per event
		-- Returns: {newVersion, lastEntryId}, or an error reply
		-- "WrongExpectedVersion <expected> <actual>"

		local expected = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])
		local current = tonumber(redis.call('HGET', KEYS[2], 'version') or '-1')

		if expected ~= -2 and expected ~= current then
			return redis.error_reply(
				'WrongExpectedVersion ' .. ARGV[2] .. ' ' .. current
			)
		end

		local major = tonumber(redis.call('HGET', KEYS[2], 'major') or '0')
		local minor = tonumber(redis.call('HGET', KEYS[2], 'minor') or '0')
		local version = current
		local lastId = ''

		for i = 4, #ARGV, 5 do
			if now > major then
				major = now
				minor = 0
			elseif minor < 9 then
				minor = minor + 1
			else
				major = major + 1
				minor = 0
			end
			version = version + 1
			lastId = string.format('%.0f-%.0f', major, minor)

			redis.call('XADD', KEYS[1], lastId,
				'message_id', ARGV[i],
				'message_type', ARGV[i + 1],
				'json_data', ARGV[i + 2],
				'json_metadata', ARGV[i + 3],
				'content_type', ARGV[i + 4],
				'stream_position', version,
				'created', ARGV[3])
		end

		redis.call('HSET', KEYS[2],
			'version', version,
			'major', string.format('%.0f', major),
			'minor', string.format('%.0f', minor))

		return {version, lastId}
		`

	// luaLibrary registers the append body as a Redis 7 function so that
	// it can be invoked with FCALL
	luaLibrary = "#!lua name=ledger\n" +
		"redis.register_function('" + appendFunction + "', " +
		"function(KEYS, ARGV)\n" + luaAppendEvents + "\nend)\n"
)
