// Package formats registers the import formats with the core registry.
// Import this package for its side effects to make every format available:
//
//	import _ "github.com/JonMunkholm/ledgerimport/internal/formats"
//
// Each format file uses init() to register itself.
package formats
