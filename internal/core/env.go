package core

// Env holds the bindings exposed to the handler module as the global `env`
// object: plain configuration values and secrets. The CLI fills Vars from
// the --env file only and leaves Secrets empty. Built once per isolate at load time, not per
// request, matching the single-argument handler(request) calling
// convention. Persistent-storage bindings (KV, R2, D1, Durable Objects,
// queues, service bindings) are out of scope for the local host.
type Env struct {
	Vars    map[string]string
	Secrets map[string]string
}
