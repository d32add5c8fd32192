package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// TestModeEnv keeps the binaries from dialing PostgreSQL or Redis when set to
// a true value ("1", "true").
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return testModeEnabled(os.Getenv(TestModeEnv))
})

// InTestMode reports whether binaries should return before any side effect.
// The environment is read once per process.
func InTestMode() bool {
	return testMode()
}

func testModeEnabled(raw string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && on
}
