// Package localdriver provides hai.DriverEndpoint implementations used in
// place of a real vendor driver: a PortAudio-backed endpoint for actual
// sound-card I/O, and a WAV-file-backed endpoint for deterministic
// playback/capture fixtures. Neither is part of the out-of-scope "concrete
// driver" boundary the core otherwise treats as opaque — they exist only
// because this module has no vendor HDI to link against.
package localdriver

import "errors"

var errUnsupported = errors.New("not supported by local reference driver")
