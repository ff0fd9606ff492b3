package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/system.txt
var systemRaw string

// System returns the assistant's system instructions. The embed is
// compile-time; trimming is cheap, so this is safe to call per request.
func System() string {
	return strings.TrimSpace(systemRaw)
}
