package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/voxloop/voxloop/pkg/audio"
)

// PlayerOption is a functional option for configuring a Player.
type PlayerOption func(*Player)

// WithPlayerBinary overrides the ffplay executable path. Default: "ffplay".
func WithPlayerBinary(path string) PlayerOption {
	return func(p *Player) { p.binary = path }
}

// WithVolume sets the playback volume (0–100). Default: 100.
func WithVolume(volume int) PlayerOption {
	return func(p *Player) { p.volume = volume }
}

// Player implements audio.Player by spawning ffplay for each reply. ffplay
// fetches the URL itself, so HTTP(S) reply audio plays without an extra
// download step.
type Player struct {
	binary string
	volume int

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewPlayer creates an ffplay-backed player.
func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{binary: "ffplay", volume: 100}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play runs ffplay against url and blocks until playback completes, Stop is
// called, or ctx is cancelled.
func (p *Player) Play(ctx context.Context, url string) error {
	cmd := exec.CommandContext(ctx, p.binary,
		"-hide_banner", "-loglevel", "error",
		"-autoexit", "-nodisp",
		"-volume", fmt.Sprint(p.volume),
		url,
	)

	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return errors.New("ffmpeg: playback already in progress")
	}
	p.cmd = cmd
	p.mu.Unlock()

	err := cmd.Run()

	p.mu.Lock()
	stopped := p.cmd == nil
	p.cmd = nil
	p.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if stopped {
		// Killed by Stop; an interrupted reply is not a failure.
		return nil
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: play %s: %w", url, err)
	}
	return nil
}

// Stop kills the in-flight ffplay process, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Ensure Player implements audio.Player at compile time.
var _ audio.Player = (*Player)(nil)
