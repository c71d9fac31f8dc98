package main

import (
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/camera"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/nfc"
)

// Hardware drivers register themselves here from a build-tagged file in this
// package. Left nil, the production station runs without reader or camera.
var (
	tagReader   nfc.TagReader
	frameSource camera.FrameSource
)
