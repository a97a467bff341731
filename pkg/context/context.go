package context

import "context"

type ContextKey string

var (
	RequestIDKey  = ContextKey("X-Request-Id")
	MethodKey     = ContextKey("X-Method")
	RouteKey      = ContextKey("X-Route")
	RemoteIPKey   = ContextKey("X-Remote-Ip")
	UserAgentKey  = ContextKey("X-User-Agent")
	ActorIDKey    = ContextKey("X-Actor-Id")
	ActorRolesKey = ContextKey("X-Actor-Roles")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

func SetUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, UserAgentKey, userAgent)
}

func GetUserAgent(ctx context.Context) string {
	return getString(ctx, UserAgentKey)
}

// SetActorID stores the id of the admin performing the request. Audit entries read it back.
func SetActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

func GetActorID(ctx context.Context) string {
	return getString(ctx, ActorIDKey)
}

func SetActorRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, ActorRolesKey, roles)
}

func GetActorRoles(ctx context.Context) []string {
	value, ok := ctx.Value(ActorRolesKey).([]string)
	if !ok {
		return nil
	}
	return value
}

// RequestMetadata collects the request fields recorded alongside audit entries.
func RequestMetadata(ctx context.Context) map[string]any {
	meta := map[string]any{}
	for key, value := range map[string]string{
		"request_id": GetRequestID(ctx),
		"method":     GetMethod(ctx),
		"route":      GetRoute(ctx),
		"remote_ip":  GetRemoteIP(ctx),
		"user_agent": GetUserAgent(ctx),
	} {
		if value != "" {
			meta[key] = value
		}
	}
	return meta
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
