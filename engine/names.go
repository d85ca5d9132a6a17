package engine

import (
	"strings"
	"unicode"
)

// toSnakeCase converts a Go method name to the snake_case name Emscripten
// uses for C-side imports.
// Runs of capitals stay together: WebGLCreateContext -> web_gl_create_context
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 && runes[i-1] != '_' {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1 // -1 because loop will increment
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// splitImportKey splits "module#name".
func splitImportKey(key string) (module, name string) {
	module, name, _ = strings.Cut(key, "#")
	return module, name
}

func importKey(module, name string) string {
	return module + "#" + name
}
