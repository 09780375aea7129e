package rebind

// ProgramCache stores compiled expression programs keyed by expression
// strings. Cached programs always re-bind against the live symbol table at
// run time, so overrides stay visible through the cache.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}
