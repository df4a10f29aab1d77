package jobxredis

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var redisErrors = errx.NewRegistry("JOBX_REDIS")

var (
	ErrEnqueue   = redisErrors.Register("ENQUEUE", errx.TypeUnavailable, 503, "Redis enqueue failed")
	ErrDequeue   = redisErrors.Register("DEQUEUE", errx.TypeUnavailable, 503, "Redis dequeue failed")
	ErrRead      = redisErrors.Register("READ", errx.TypeUnavailable, 503, "Redis read failed")
	ErrWrite     = redisErrors.Register("WRITE", errx.TypeUnavailable, 503, "Redis write failed")
	ErrPublish   = redisErrors.Register("PUBLISH", errx.TypeUnavailable, 503, "Redis publish failed")
	ErrSubscribe = redisErrors.Register("SUBSCRIBE", errx.TypeUnavailable, 503, "Redis subscribe failed")
	ErrPing      = redisErrors.Register("PING", errx.TypeUnavailable, 503, "Redis is unreachable")
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, 500, "Failed to marshal job data")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to unmarshal job data")
)
