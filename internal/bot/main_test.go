package bot

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"tsignals-relay/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Log = zerolog.Nop()
	os.Exit(m.Run())
}
