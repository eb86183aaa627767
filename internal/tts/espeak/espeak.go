package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
espeak_say(const char *text, const char *voice)
{
	if (!text || !voice)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }
	espeak_VOICE specs;
	memset(&specs, 0, sizeof(specs));
	specs.languages = voice;
	espeak_SetVoiceByProperties(&specs);

	espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

// Engine speaks through libespeak-ng. Calls are serialized.
type Engine struct {
	Voice string

	mu sync.Mutex
}

func New(voice string) *Engine {
	if voice == "" {
		voice = "en"
	}
	return &Engine{Voice: voice}
}

func (e *Engine) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	cvoice := C.CString(e.Voice)
	defer C.free(unsafe.Pointer(cvoice))

	rc := C.espeak_say(ctext, cvoice)
	if rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}
