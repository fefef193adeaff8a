//go:build !unix

package playback

import (
	"errors"
	"os"
)

var errSignalsUnsupported = errors.New("pausing an external player is not supported on this platform")

func pauseProcess(*os.Process) error  { return errSignalsUnsupported }
func resumeProcess(*os.Process) error { return errSignalsUnsupported }
