//go:build !debug_segalloc

package memutils

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_segalloc build tag is present
func DebugValidate(validatable Validatable) {
}
