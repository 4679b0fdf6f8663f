// Package sound plays short WAV cues on the speaker from a single background
// goroutine.  A new sound interrupts the one that's playing.
package sound

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/pkg/errors"
)

const queueTimeout = 10 * time.Millisecond

type Player struct {
	soundsToPlay chan string
	done         sync.WaitGroup
	closeOnce    sync.Once
}

// NewPlayer starts the playback goroutine.  If the speaker can't be opened,
// sounds are logged and dropped.
func NewPlayer() *Player {
	return newPlayer(newSpeaker())
}

func newPlayer(play func(path string) error) *Player {
	p := &Player{
		soundsToPlay: make(chan string),
	}
	p.done.Add(1)
	go func() {
		defer p.done.Done()
		for path := range p.soundsToPlay {
			if err := safePlay(play, path); err != nil {
				fmt.Println("Unable to play", path, err)
			}
		}
	}()
	return p
}

func safePlay(play func(path string) error, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sound player panicked: %v", r)
		}
	}()
	return play(path)
}

// Play queues a sound without blocking the caller for more than a moment.
// An empty path is ignored.
func (p *Player) Play(path string) {
	if path == "" {
		return
	}
	defer func() {
		recover() // Don't die if the player is already closed.
	}()
	select {
	case p.soundsToPlay <- path:
	case <-time.After(queueTimeout):
		fmt.Println("Timed out trying to play sound: ", path)
	}
}

func (p *Player) Close() {
	p.closeOnce.Do(func() {
		close(p.soundsToPlay)
	})
	p.done.Wait()
}

// newSpeaker returns a play function that interrupts the current sound.  The
// speaker is opened on first use.
func newSpeaker() func(path string) error {
	var initOnce sync.Once
	var initErr error
	var ctrl *beep.Ctrl
	var s beep.StreamSeekCloser
	return func(path string) error {
		initOnce.Do(func() {
			sampleRate := beep.SampleRate(44100)
			initErr = speaker.Init(sampleRate, sampleRate.N(time.Second/5))
			if initErr != nil {
				fmt.Println("Failed to open speaker", initErr)
			}
		})
		if initErr != nil {
			return errors.Wrap(initErr, "no speaker")
		}
		if ctrl != nil {
			speaker.Lock()
			ctrl.Paused = true
			ctrl.Streamer = nil
			speaker.Unlock()
			ctrl = nil
		}
		if s != nil {
			_ = s.Close()
			s = nil
		}

		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "failed to open sound")
		}
		s, _, err = wav.Decode(f)
		if err != nil {
			_ = f.Close()
			return errors.Wrap(err, "failed to decode sound")
		}
		ctrl = &beep.Ctrl{Streamer: s}
		speaker.Play(ctrl)
		return nil
	}
}
