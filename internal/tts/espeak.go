package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
espeak_say(const char *text, const char *lang)
{
	if (!text)
	{ return -1; }

	espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0);
	espeak_VOICE specs = { .languages = lang };
	espeak_SetVoiceByProperties(&specs);

	espeak_Synth(text, 500, 0, 0, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// espeak-ng is not reentrant; serialize synthesis so concurrent callers
// (health monitor vs orchestrator) cannot interleave speech.
var mu sync.Mutex

// Voice speaks through espeak-ng with a fixed language.
type Voice struct {
	Language string
}

func New(language string) *Voice {
	if language == "" {
		language = "en"
	}
	return &Voice{Language: language}
}

// Speak synthesizes text synchronously; it returns once playback finished.
func (v *Voice) Speak(text string) error {
	if text == "" {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(v.Language)
	defer C.free(unsafe.Pointer(clang))

	rc := C.espeak_say(ctext, clang)
	if rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}

	return nil
}
